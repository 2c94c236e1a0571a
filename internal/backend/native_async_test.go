package backend

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/goleak"
)

// openNativeAsyncOrSkip skips when the native binding is unavailable on
// the build host (no cgo, missing libsqlite3).
func openNativeAsyncOrSkip(t *testing.T, path string) Adapter {
	t.Helper()
	a, err := Open(NativeAsync, path)
	if err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			t.Skipf("native-async backend unavailable: %v", err)
		}
		t.Fatalf("open native-async backend: %v", err)
	}
	return a
}

func TestNativeAsyncRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := openNativeAsyncOrSkip(t, filepath.Join(t.TempDir(), "async.db"))
	if err := a.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := a.Exec("INSERT INTO kv (k, v) VALUES (?, ?)", "alpha", "one"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	row, err := a.QueryRow("SELECT v FROM kv WHERE k = ?", "alpha")
	if err != nil {
		t.Fatalf("query row: %v", err)
	}
	var v string
	if err := row.Scan(&v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if v != "one" {
		t.Errorf("value = %q, want %q", v, "one")
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNativeAsyncConcurrentWriters(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := openNativeAsyncOrSkip(t, filepath.Join(t.TempDir(), "async.db"))
	if err := a.Exec("CREATE TABLE counters (id INTEGER PRIMARY KEY AUTOINCREMENT, n INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	const writers = 32
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- a.Exec("INSERT INTO counters (n) VALUES (?)", n)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent exec: %v", err)
		}
	}

	row, err := a.QueryRow("SELECT COUNT(*) FROM counters")
	if err != nil {
		t.Fatalf("count query: %v", err)
	}
	var n int
	if err := row.Scan(&n); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != writers {
		t.Errorf("rows = %d, want %d", n, writers)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNativeAsyncCloseRacingSubmits(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := openNativeAsyncOrSkip(t, filepath.Join(t.TempDir(), "async.db"))
	if err := a.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	// Submitters race the shutdown. Every call must resolve to nil or a
	// StorageError; none may panic or block forever.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				err := a.Exec("INSERT OR REPLACE INTO kv (k, v) VALUES (?, ?)", fmt.Sprintf("k%d", n), "v")
				if err != nil {
					var se *StorageError
					if !errors.As(err, &se) {
						t.Errorf("unexpected error type after close: %v", err)
					}
					return
				}
			}
		}(i)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()
}

func TestNativeAsyncCloseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := openNativeAsyncOrSkip(t, filepath.Join(t.TempDir(), "async.db"))
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	err := a.Exec("SELECT 1")
	if err == nil {
		t.Fatal("expected error after close")
	}
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %T", err)
	}
}
