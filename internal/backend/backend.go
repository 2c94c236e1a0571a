// Package backend provides a uniform adapter over the three embedded
// SQLite engines the store can run on: the synchronous CGO binding
// (mattn/go-sqlite3), the same binding driven asynchronously through a
// single serialized connection, and the pure-Go transpiled interpreter
// (modernc.org/sqlite) which needs no native code at all.
//
// Backend-specific types never leak past this package: callers see one
// Adapter contract regardless of which engine is active.
package backend

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// ID identifies one of the interchangeable storage engines.
type ID string

const (
	// NativeSync is the blocking CGO binding. Best throughput, WAL
	// durability, survives process crashes without losing committed writes.
	NativeSync ID = "native-sync"
	// NativeAsync uses the same native engine but serializes every call
	// onto one logical connection owned by a dedicated goroutine.
	NativeAsync ID = "native-async"
	// WASM is the pure-Go interpreter. Fully synchronous, single
	// threaded, no native WAL; durability is emulated by snapshotting.
	WASM ID = "wasm"
)

// Priority is the fixed probe and selection order for detection.
var Priority = []ID{NativeSync, NativeAsync, WASM}

// MemoryPath opens a backend without a backing file. No durability
// sidecars or snapshots are produced for it.
const MemoryPath = ":memory:"

// Executor is the statement surface shared by direct calls and
// transactions. *sql.Tx satisfies it.
type Executor interface {
	Exec(stmt string, args ...any) (sql.Result, error)
	Query(stmt string, args ...any) (*sql.Rows, error)
	QueryRow(stmt string, args ...any) *sql.Row
}

// Adapter is the uniform CRUD/transaction contract over one engine.
// A single Exec or Query call is atomic with respect to other calls on
// all three backends; Transaction groups several statements into one
// atomic commit.
type Adapter interface {
	ID() ID

	Exec(stmt string, args ...any) error
	Query(stmt string, args ...any) (*sql.Rows, error)
	QueryRow(stmt string, args ...any) (*sql.Row, error)

	// Transaction runs fn inside a transaction, committing when fn
	// returns nil and rolling back otherwise.
	Transaction(fn func(tx Executor) error) error

	// Pragma sets an engine tuning knob by name.
	Pragma(name, value string) error

	Close() error
}

// Options tunes backend-specific behavior at open time.
type Options struct {
	// SnapshotThreshold is the number of bare (non-transactional) writes
	// the wasm backend tolerates before forcing a snapshot flush.
	SnapshotThreshold int
}

// Option mutates Options.
type Option func(*Options)

// WithSnapshotThreshold overrides the wasm snapshot batch threshold.
func WithSnapshotThreshold(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.SnapshotThreshold = n
		}
	}
}

const defaultSnapshotThreshold = 16

// Open initializes the engine identified by id for the given path.
// It returns ErrBackendUnavailable (wrapped) when the engine cannot be
// loaded or cannot open the path.
func Open(id ID, path string, opts ...Option) (Adapter, error) {
	o := Options{SnapshotThreshold: defaultSnapshotThreshold}
	for _, opt := range opts {
		opt(&o)
	}

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("%w: %s: cannot create directory: %v", ErrBackendUnavailable, id, err)
		}
	}

	switch id {
	case NativeSync:
		return openNativeSync(path)
	case NativeAsync:
		return openNativeAsync(path)
	case WASM:
		return openWASM(path, o)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackendUnavailable, id)
	}
}

// nativePragmas is the durability profile applied to both native
// backends: crash-safe WAL commits, NORMAL fsync cadence, a fixed page
// cache budget and memory-backed temp storage.
var nativePragmas = [][2]string{
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
	{"cache_size", "-64000"},
	{"temp_store", "MEMORY"},
	{"busy_timeout", "5000"},
}

func applyPragmas(db *sql.DB, pragmas [][2]string) error {
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s=%s", p[0], p[1])); err != nil {
			return fmt.Errorf("pragma %s=%s: %w", p[0], p[1], err)
		}
	}
	return nil
}
