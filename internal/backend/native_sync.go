package backend

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"memstore/internal/logging"
)

// nativeSyncAdapter wraps the blocking CGO engine. Calls block the
// calling goroutine; callers needing non-blocking behavior offload to a
// worker themselves.
type nativeSyncAdapter struct {
	db   *sql.DB
	path string
}

func openNativeSync(path string) (*nativeSyncAdapter, error) {
	timer := logging.StartTimer(logging.CategoryBackend, "openNativeSync")
	defer timer.Stop()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: native-sync: %v", ErrBackendUnavailable, err)
	}

	// sql.Open is lazy; Ping forces the engine to actually load and open
	// the file. A CGO-less build surfaces its failure here.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: native-sync: cannot open %s: %v", ErrBackendUnavailable, path, err)
	}

	if err := applyPragmas(db, nativePragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: native-sync: %v", ErrBackendUnavailable, err)
	}

	logging.Backend("native-sync backend opened: %s", path)
	return &nativeSyncAdapter{db: db, path: path}, nil
}

func (a *nativeSyncAdapter) ID() ID { return NativeSync }

func (a *nativeSyncAdapter) Exec(stmt string, args ...any) error {
	_, err := a.db.Exec(stmt, args...)
	return wrapErr(NativeSync, "exec", err)
}

func (a *nativeSyncAdapter) Query(stmt string, args ...any) (*sql.Rows, error) {
	rows, err := a.db.Query(stmt, args...)
	return rows, wrapErr(NativeSync, "query", err)
}

func (a *nativeSyncAdapter) QueryRow(stmt string, args ...any) (*sql.Row, error) {
	return a.db.QueryRow(stmt, args...), nil
}

func (a *nativeSyncAdapter) Transaction(fn func(tx Executor) error) error {
	tx, err := a.db.Begin()
	if err != nil {
		return wrapErr(NativeSync, "begin", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.BackendWarn("native-sync rollback failed: %v", rbErr)
		}
		// fn errors belong to the caller's layer; only driver failures
		// get wrapped.
		return err
	}
	return wrapErr(NativeSync, "commit", tx.Commit())
}

func (a *nativeSyncAdapter) Pragma(name, value string) error {
	_, err := a.db.Exec(fmt.Sprintf("PRAGMA %s=%s", name, value))
	return wrapErr(NativeSync, "pragma", err)
}

func (a *nativeSyncAdapter) Close() error {
	logging.BackendDebug("closing native-sync backend: %s", a.path)
	return wrapErr(NativeSync, "close", a.db.Close())
}
