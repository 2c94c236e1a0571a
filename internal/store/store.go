package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"memstore/internal/backend"
	"memstore/internal/logging"
	"memstore/internal/namespace"
)

// storeState tracks the lifecycle: Uninitialized -> Opening -> Ready ->
// Closed. Closed is terminal. Any call other than Open made outside
// Ready fails with ErrNotReady.
type storeState int

const (
	stateUninitialized storeState = iota
	stateOpening
	stateReady
	stateClosed
)

// Store is the memory store over one exclusively-owned backend handle.
// Concurrent Store instances over the same path are not coordinated and
// must not be created.
type Store struct {
	mu        sync.RWMutex
	state     storeState
	db        backend.Adapter
	path      string
	detection *backend.Result
	// instrument controls side-channel latency samples for write paths.
	instrument bool
}

type openOptions struct {
	backendID         backend.ID
	detector          *backend.Detector
	snapshotThreshold int
	instrument        bool
}

// Option tunes Open.
type Option func(*openOptions)

// WithBackend pins the store to a specific engine instead of running
// detection.
func WithBackend(id backend.ID) Option {
	return func(o *openOptions) { o.backendID = id }
}

// WithDetector supplies a caller-owned detector, typically to share its
// memoized probe results or to isolate tests.
func WithDetector(d *backend.Detector) Option {
	return func(o *openOptions) { o.detector = d }
}

// WithSnapshotThreshold tunes the wasm backend's batch flush.
func WithSnapshotThreshold(n int) Option {
	return func(o *openOptions) { o.snapshotThreshold = n }
}

// WithoutInstrumentation disables the store's own latency samples.
func WithoutInstrumentation() Option {
	return func(o *openOptions) { o.instrument = false }
}

// Open selects a backend (detection unless pinned), opens it for path,
// ensures the schema and returns a Ready store. It fails with
// ErrNoBackendAvailable when no engine initializes, or
// ErrBackendUnavailable when the chosen engine cannot open path.
func Open(path string, opts ...Option) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	o := openOptions{instrument: true}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{state: stateOpening, path: path, instrument: o.instrument}

	id := o.backendID
	if id == "" {
		det := o.detector
		if det == nil {
			det = backend.NewDetector()
		}
		res, err := det.Detect()
		if err != nil {
			return nil, err
		}
		s.detection = res
		id = res.Recommended
		logging.Boot("backend detection recommends %s (available: %v)", id, res.Available)
	}

	var backendOpts []backend.Option
	if o.snapshotThreshold > 0 {
		backendOpts = append(backendOpts, backend.WithSnapshotThreshold(o.snapshotThreshold))
	}

	db, err := backend.Open(id, path, backendOpts...)
	if err != nil {
		return nil, err
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	s.state = stateReady
	logging.Store("memory store ready: path=%s backend=%s", path, id)
	return s, nil
}

// ready returns the adapter if the store is in the Ready state.
func (s *Store) ready() (backend.Adapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != stateReady {
		return nil, ErrNotReady
	}
	return s.db, nil
}

// Store upserts an entry by its (namespace, key) identity. The namespace
// is normalized first; a malformed namespace yields an
// *InvalidNamespaceError whose message contains "Invalid namespace
// format". A positive TTL sets the expiry to now + TTL seconds.
func (s *Store) Store(req StoreRequest) error {
	db, err := s.ready()
	if err != nil {
		return err
	}
	start := time.Now()

	ns := req.Namespace
	if ns == "" {
		ns = namespace.Default
	}
	ns = namespace.Normalize(ns)
	if !namespace.Validate(ns) {
		return &InvalidNamespaceError{Namespace: req.Namespace}
	}

	valueJSON, err := json.Marshal(req.Value)
	if err != nil {
		return fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	var metaJSON any
	if req.Metadata != nil {
		data, err := json.Marshal(req.Metadata)
		if err != nil {
			return fmt.Errorf("metadata is not JSON-serializable: %w", err)
		}
		metaJSON = string(data)
	}

	now := time.Now().UnixMilli()
	var expiresAt any
	if req.TTL > 0 {
		expiresAt = now + req.TTL*1000
	}

	err = db.Transaction(func(tx backend.Executor) error {
		_, err := tx.Exec(
			`INSERT INTO memory_entries (namespace, key, value, metadata, created_at, updated_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(namespace, key) DO UPDATE SET
			 value = excluded.value,
			 metadata = excluded.metadata,
			 updated_at = excluded.updated_at,
			 expires_at = excluded.expires_at`,
			ns, req.Key, string(valueJSON), metaJSON, now, now, expiresAt,
		)
		return err
	})
	if err != nil {
		return err
	}

	logging.StoreDebug("stored %s/%s (ttl=%ds)", ns, req.Key, req.TTL)
	s.recordOpSample("store_latency_ms", time.Since(start), ns, db.ID())
	return nil
}

// Retrieve returns the live entry for key. With a namespace the lookup
// is exact; with an empty namespace all namespaces are searched and the
// match with the greatest UpdatedAt wins, ties broken by the
// lexicographically smallest namespace. A missing or expired entry
// yields (nil, nil), never an error.
func (s *Store) Retrieve(key, ns string) (*Entry, error) {
	db, err := s.ready()
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()

	var stmt string
	var args []any
	if ns != "" {
		ns = namespace.Normalize(ns)
		stmt = `SELECT namespace, key, value, metadata, created_at, updated_at, expires_at, access_count
			FROM memory_entries
			WHERE namespace = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)`
		args = []any{ns, key, now}
	} else {
		stmt = `SELECT namespace, key, value, metadata, created_at, updated_at, expires_at, access_count
			FROM memory_entries
			WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
			ORDER BY updated_at DESC, namespace ASC
			LIMIT 1`
		args = []any{key, now}
	}

	row, err := db.QueryRow(stmt, args...)
	if err != nil {
		return nil, err
	}
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Reclaim an expired tombstone for this identity while we are here.
		if ns != "" {
			s.reapExpired(db, ns, key, now)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Access tracking is best-effort; a failure never hides the hit.
	if err := db.Exec(
		`UPDATE memory_entries SET access_count = access_count + 1, last_accessed = ? WHERE namespace = ? AND key = ?`,
		now, entry.Namespace, entry.Key,
	); err != nil {
		logging.StoreWarn("access tracking update failed for %s/%s: %v", entry.Namespace, entry.Key, err)
	}
	return entry, nil
}

// reapExpired deletes a dead row for one identity. Purely opportunistic;
// observable semantics do not depend on it.
func (s *Store) reapExpired(db backend.Adapter, ns, key string, now int64) {
	err := db.Exec(
		`DELETE FROM memory_entries WHERE namespace = ? AND key = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		ns, key, now,
	)
	if err != nil {
		logging.StoreWarn("expired reap failed for %s/%s: %v", ns, key, err)
	}
}

// Search returns the live entries whose key matches keyPattern ("*" is a
// multi-character wildcard) inside the namespaces matching nsPattern
// (namespace wildcard grammar; empty means "**"). No match yields an
// empty slice, never an error.
func (s *Store) Search(keyPattern, nsPattern string) ([]Entry, error) {
	db, err := s.ready()
	if err != nil {
		return nil, err
	}
	if nsPattern == "" {
		nsPattern = "**"
	}
	now := time.Now().UnixMilli()

	namespaces, err := s.liveNamespaces(db, nsPattern, now)
	if err != nil {
		return nil, err
	}
	if len(namespaces) == 0 {
		return []Entry{}, nil
	}

	placeholders := strings.Repeat("?,", len(namespaces))
	placeholders = placeholders[:len(placeholders)-1]
	stmt := fmt.Sprintf(
		`SELECT namespace, key, value, metadata, created_at, updated_at, expires_at, access_count
		 FROM memory_entries
		 WHERE namespace IN (%s) AND key LIKE ? ESCAPE '\' AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY namespace ASC, key ASC`, placeholders)

	args := make([]any, 0, len(namespaces)+2)
	for _, n := range namespaces {
		args = append(args, n)
	}
	args = append(args, keyPatternToLike(keyPattern), now)

	rows, err := db.Query(stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			logging.StoreWarn("failed to scan entry row: %v", err)
			continue
		}
		// LIKE is a prefilter; the wildcard grammar is authoritative.
		if !namespace.MatchKey(entry.Key, keyPattern) {
			continue
		}
		results = append(results, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// List returns every live entry in the namespaces matching pattern.
func (s *Store) List(pattern string) ([]Entry, error) {
	return s.Search("*", pattern)
}

// NamespaceInfo returns one aggregate record per matching namespace with
// live entries, ordered by namespace.
func (s *Store) NamespaceInfo(pattern string) ([]NamespaceInfo, error) {
	db, err := s.ready()
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "**"
	}
	now := time.Now().UnixMilli()

	rows, err := db.Query(
		`SELECT namespace, COUNT(*), MIN(created_at), MAX(updated_at),
		        SUM(LENGTH(value) + LENGTH(COALESCE(metadata, '')))
		 FROM memory_entries
		 WHERE expires_at IS NULL OR expires_at > ?
		 GROUP BY namespace
		 ORDER BY namespace ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	infos := []NamespaceInfo{}
	for rows.Next() {
		var info NamespaceInfo
		var oldest, newest int64
		if err := rows.Scan(&info.Namespace, &info.EntryCount, &oldest, &newest, &info.ApproxSizeBytes); err != nil {
			logging.StoreWarn("failed to scan namespace info row: %v", err)
			continue
		}
		if !namespace.MatchesPattern(info.Namespace, pattern) {
			continue
		}
		info.OldestEntry = time.UnixMilli(oldest)
		info.NewestEntry = time.UnixMilli(newest)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return infos, nil
}

// Delete removes the entry for (namespace, key). Reports whether a row
// was removed.
func (s *Store) Delete(key, ns string) (bool, error) {
	db, err := s.ready()
	if err != nil {
		return false, err
	}
	if ns == "" {
		ns = namespace.Default
	}
	ns = namespace.Normalize(ns)
	if !namespace.Validate(ns) {
		return false, &InvalidNamespaceError{Namespace: ns}
	}

	deleted := false
	err = db.Transaction(func(tx backend.Executor) error {
		res, err := tx.Exec(`DELETE FROM memory_entries WHERE namespace = ? AND key = ?`, ns, key)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted = n > 0
		}
		return nil
	})
	return deleted, err
}

// Cleanup physically removes every expired entry and returns the count.
func (s *Store) Cleanup() (int64, error) {
	db, err := s.ready()
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()

	var removed int64
	err = db.Transaction(func(tx backend.Executor) error {
		res, err := tx.Exec(
			`DELETE FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logging.Store("cleanup removed %d expired entries", removed)
	}
	return removed, nil
}

// Stats returns row counts per table.
func (s *Store) Stats() (map[string]int64, error) {
	db, err := s.ready()
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int64)
	for _, table := range []string{"memory_entries", "metric_samples"} {
		row, err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
		if err != nil {
			continue
		}
		var count int64
		if err := row.Scan(&count); err != nil {
			continue
		}
		stats[table] = count
	}
	return stats, nil
}

// TestConnection performs a trivial round-trip query.
func (s *Store) TestConnection() bool {
	db, err := s.ready()
	if err != nil {
		return false
	}
	row, err := db.QueryRow("SELECT 1")
	if err != nil {
		return false
	}
	var one int
	return row.Scan(&one) == nil && one == 1
}

// ImplementationInfo reports the active backend and the last detection
// ranking. When the backend was pinned at Open, only the active id is
// listed.
func (s *Store) ImplementationInfo() ImplementationInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := ImplementationInfo{Available: []string{}}
	if s.db != nil {
		info.Name = string(s.db.ID())
	}
	if s.detection != nil {
		for _, id := range s.detection.Available {
			info.Available = append(info.Available, string(id))
		}
	} else if s.db != nil {
		info.Available = append(info.Available, string(s.db.ID()))
	}
	return info
}

// Path returns the backing file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close releases the backend handle. Idempotent; the store transitions
// to the terminal Closed state.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed

	var err error
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	logging.Store("memory store closed: %s", s.path)
	return err
}

// liveNamespaces returns the distinct namespaces holding live entries
// that match pattern, sorted.
func (s *Store) liveNamespaces(db backend.Adapter, pattern string, now int64) ([]string, error) {
	rows, err := db.Query(
		`SELECT DISTINCT namespace FROM memory_entries WHERE expires_at IS NULL OR expires_at > ?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matched []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			continue
		}
		if namespace.MatchesPattern(ns, pattern) {
			matched = append(matched, ns)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(matched)
	return matched, nil
}

// keyPatternToLike converts the "*" wildcard grammar into a LIKE
// prefilter. LIKE metacharacters in the pattern are escaped so only "*"
// carries meaning.
func keyPatternToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '\\', '%', '_':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '*':
			b.WriteByte('%')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var valueJSON string
	var metaJSON sql.NullString
	var createdAt, updatedAt int64
	var expiresAt sql.NullInt64

	if err := row.Scan(&e.Namespace, &e.Key, &valueJSON, &metaJSON, &createdAt, &updatedAt, &expiresAt, &e.AccessCount); err != nil {
		return nil, err
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	e.UpdatedAt = time.UnixMilli(updatedAt)
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		e.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(valueJSON), &e.Value); err != nil {
		return nil, fmt.Errorf("corrupt value for %s/%s: %w", e.Namespace, e.Key, err)
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
			logging.StoreWarn("corrupt metadata for %s/%s: %v", e.Namespace, e.Key, err)
		}
	}
	return &e, nil
}
