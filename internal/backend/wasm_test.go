package backend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func openWASMAt(t *testing.T, path string, opts ...Option) Adapter {
	t.Helper()
	a, err := Open(WASM, path, opts...)
	if err != nil {
		t.Fatalf("open wasm backend: %v", err)
	}
	return a
}

func TestWASMSnapshotSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")

	a := openWASMAt(t, path)
	err := a.Transaction(func(tx Executor) error {
		if _, err := tx.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"); err != nil {
			return err
		}
		_, err := tx.Exec("INSERT INTO kv (k, v) VALUES (?, ?)", "alpha", "one")
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot file missing after close: %v", err)
	}

	b := openWASMAt(t, path)
	defer b.Close()

	row, err := b.QueryRow("SELECT v FROM kv WHERE k = ?", "alpha")
	if err != nil {
		t.Fatalf("query after reopen: %v", err)
	}
	var v string
	if err := row.Scan(&v); err != nil {
		t.Fatalf("scan after reopen: %v", err)
	}
	if v != "one" {
		t.Errorf("value after reopen = %q, want %q", v, "one")
	}
}

func TestWASMIndexesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")

	a := openWASMAt(t, path)
	err := a.Transaction(func(tx Executor) error {
		if _, err := tx.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"); err != nil {
			return err
		}
		_, err := tx.Exec("CREATE INDEX idx_kv_v ON kv (v)")
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b := openWASMAt(t, path)
	defer b.Close()

	row, err := b.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_kv_v'")
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	var n int
	if err := row.Scan(&n); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 1 {
		t.Errorf("index not restored from snapshot")
	}
}

func TestWASMSnapshotThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")

	a := openWASMAt(t, path, WithSnapshotThreshold(2))
	if err := a.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	// A second bare write crosses the threshold and forces a snapshot
	// without any transaction commit.
	if err := a.Exec("INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected snapshot after crossing write threshold: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestWASMClosedAdapterErrors(t *testing.T) {
	a := openWASMAt(t, MemoryPath)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// Every method must report a StorageError after Close, never panic.
	var se *StorageError

	err := a.Exec("SELECT 1")
	if !errors.As(err, &se) {
		t.Fatalf("Exec after close: expected StorageError, got %v", err)
	}
	if _, err := a.Query("SELECT 1"); !errors.As(err, &se) {
		t.Fatalf("Query after close: expected StorageError, got %v", err)
	}
	if _, err := a.QueryRow("SELECT 1"); !errors.As(err, &se) {
		t.Fatalf("QueryRow after close: expected StorageError, got %v", err)
	}
	err = a.Transaction(func(tx Executor) error { return nil })
	if !errors.As(err, &se) {
		t.Fatalf("Transaction after close: expected StorageError, got %v", err)
	}
	if err := a.Pragma("user_version", "1"); !errors.As(err, &se) {
		t.Fatalf("Pragma after close: expected StorageError, got %v", err)
	}
}

func TestWASMCloseRacingWrites(t *testing.T) {
	a := openWASMAt(t, filepath.Join(t.TempDir(), "snap.db"))
	if err := a.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				// Errors are expected once Close lands; panics are not.
				a.Exec("INSERT OR REPLACE INTO kv (k, v) VALUES (?, ?)", fmt.Sprintf("k%d", n), "v")
			}
		}(i)
	}
	a.Close()
	wg.Wait()
}

func TestWASMRollbackNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")

	a := openWASMAt(t, path)
	err := a.Transaction(func(tx Executor) error {
		_, err := tx.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	wantErr := os.ErrInvalid
	err = a.Transaction(func(tx Executor) error {
		if _, err := tx.Exec("INSERT INTO kv (k, v) VALUES (?, ?)", "ghost", "x"); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected fn error back unwrapped, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b := openWASMAt(t, path)
	defer b.Close()

	row, err := b.QueryRow("SELECT COUNT(*) FROM kv")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var n int
	if err := row.Scan(&n); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 0 {
		t.Errorf("rolled-back row persisted across reopen")
	}
}
