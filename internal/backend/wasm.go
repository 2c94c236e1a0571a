package backend

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"memstore/internal/logging"
)

// wasmAdapter runs the pure-Go transpiled SQLite interpreter. The working
// database lives in memory; there is no native WAL. Durability is
// emulated by serializing a full snapshot to the backing file after each
// committed transaction, or after SnapshotThreshold bare writes. The
// crash window between commit and snapshot is a known, documented
// trade-off of this backend, not hidden behind the adapter contract.
type wasmAdapter struct {
	mu        sync.Mutex
	db        *sql.DB
	path      string
	threshold int
	dirty     int
}

func openWASM(path string, o Options) (*wasmAdapter, error) {
	timer := logging.StartTimer(logging.CategoryBackend, "openWASM")
	defer timer.Stop()

	db, err := sql.Open("sqlite", MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: wasm: %v", ErrBackendUnavailable, err)
	}

	// A fresh pool connection would carry a fresh, empty :memory:
	// database. Pin the pool to the single connection the interpreter
	// runs on.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: wasm: %v", ErrBackendUnavailable, err)
	}

	a := &wasmAdapter{db: db, path: path, threshold: o.SnapshotThreshold}

	if path != MemoryPath {
		if err := a.restore(); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: wasm: cannot restore snapshot %s: %v", ErrBackendUnavailable, path, err)
		}
	}

	logging.Backend("wasm backend opened: %s (snapshot threshold %d)", path, a.threshold)
	return a, nil
}

func (a *wasmAdapter) ID() ID { return WASM }

func (a *wasmAdapter) Exec(stmt string, args ...any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return wrapErr(WASM, "exec", errAdapterClosed)
	}
	if _, err := a.db.Exec(stmt, args...); err != nil {
		return wrapErr(WASM, "exec", err)
	}
	a.dirty++
	if a.dirty >= a.threshold {
		if err := a.snapshotLocked(); err != nil {
			return wrapErr(WASM, "snapshot", err)
		}
	}
	return nil
}

func (a *wasmAdapter) Query(stmt string, args ...any) (*sql.Rows, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil, wrapErr(WASM, "query", errAdapterClosed)
	}
	rows, err := a.db.Query(stmt, args...)
	return rows, wrapErr(WASM, "query", err)
}

func (a *wasmAdapter) QueryRow(stmt string, args ...any) (*sql.Row, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil, wrapErr(WASM, "query-row", errAdapterClosed)
	}
	return a.db.QueryRow(stmt, args...), nil
}

func (a *wasmAdapter) Transaction(fn func(tx Executor) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return wrapErr(WASM, "begin", errAdapterClosed)
	}

	tx, err := a.db.Begin()
	if err != nil {
		return wrapErr(WASM, "begin", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.BackendWarn("wasm rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(WASM, "commit", err)
	}
	// Committed transactions flush immediately; that is this backend's
	// whole durability story.
	return wrapErr(WASM, "snapshot", a.snapshotLocked())
}

func (a *wasmAdapter) Pragma(name, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return wrapErr(WASM, "pragma", errAdapterClosed)
	}
	_, err := a.db.Exec(fmt.Sprintf("PRAGMA %s=%s", name, value))
	return wrapErr(WASM, "pragma", err)
}

func (a *wasmAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	if a.dirty > 0 {
		if err := a.snapshotLocked(); err != nil {
			logging.BackendWarn("wasm final snapshot failed: %v", err)
		}
	}
	err := a.db.Close()
	a.db = nil
	logging.BackendDebug("closed wasm backend: %s", a.path)
	return wrapErr(WASM, "close", err)
}

// snapshotLocked serializes the in-memory database to the backing file.
// The snapshot is written to a sidecar temp file and renamed over the
// target so readers never observe a torn file. Caller holds a.mu.
func (a *wasmAdapter) snapshotLocked() error {
	if a.path == MemoryPath {
		a.dirty = 0
		return nil
	}

	tmp := a.path + ".snapshot.tmp"
	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return err
	}
	if _, err := a.db.Exec("VACUUM INTO ?", tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, a.path); err != nil {
		os.Remove(tmp)
		return err
	}
	a.dirty = 0
	return nil
}

// restore loads a previous snapshot into the in-memory database by
// attaching the file and copying its schema and rows.
func (a *wasmAdapter) restore() error {
	if _, err := os.Stat(a.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	timer := logging.StartTimer(logging.CategoryBackend, "wasmAdapter.restore")
	defer timer.Stop()

	if _, err := a.db.Exec("ATTACH DATABASE ? AS snap", a.path); err != nil {
		return err
	}
	defer a.db.Exec("DETACH DATABASE snap")

	rows, err := a.db.Query(
		`SELECT name, sql FROM snap.sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND sql IS NOT NULL`)
	if err != nil {
		return err
	}

	var tables []string
	var ddl []string
	for rows.Next() {
		var name, stmt string
		if err := rows.Scan(&name, &stmt); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
		ddl = append(ddl, stmt)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for i, name := range tables {
		if _, err := a.db.Exec(ddl[i]); err != nil {
			return fmt.Errorf("recreate table %s: %w", name, err)
		}
		copyStmt := fmt.Sprintf(`INSERT INTO main.%q SELECT * FROM snap.%q`, name, name)
		if _, err := a.db.Exec(copyStmt); err != nil {
			return fmt.Errorf("copy table %s: %w", name, err)
		}
	}

	// Secondary indexes travel with the snapshot too.
	idxRows, err := a.db.Query(
		`SELECT sql FROM snap.sqlite_master WHERE type = 'index' AND sql IS NOT NULL`)
	if err != nil {
		return err
	}
	var indexes []string
	for idxRows.Next() {
		var stmt string
		if err := idxRows.Scan(&stmt); err != nil {
			idxRows.Close()
			return err
		}
		indexes = append(indexes, stmt)
	}
	if err := idxRows.Err(); err != nil {
		idxRows.Close()
		return err
	}
	idxRows.Close()
	for _, stmt := range indexes {
		if _, err := a.db.Exec(stmt); err != nil {
			return err
		}
	}

	logging.BackendDebug("wasm snapshot restored: %s (%d tables)", a.path, len(tables))
	return nil
}
