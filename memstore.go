// Package memstore is a hierarchical, namespace-addressed, durable
// key-value memory store that runs on one of three embedded SQLite
// engines, selected at runtime by capability detection: the synchronous
// native binding, the same binding driven asynchronously through a
// serialized connection, and a pure-Go interpreter requiring no native
// code.
//
// The package is a thin facade; the store lives in internal/store and
// the engine adapters in internal/backend.
package memstore

import (
	"memstore/internal/backend"
	"memstore/internal/store"
)

// Backend identifiers, in detection priority order.
const (
	BackendNativeSync  = backend.NativeSync
	BackendNativeAsync = backend.NativeAsync
	BackendWASM        = backend.WASM
)

// MemoryPath opens a store without a backing file.
const MemoryPath = backend.MemoryPath

// Errors surfaced by Open and detection.
var (
	ErrNoBackendAvailable = backend.ErrNoBackendAvailable
	ErrBackendUnavailable = backend.ErrBackendUnavailable
	ErrNotReady           = store.ErrNotReady
)

// Re-exported types so most callers only import this package.
type (
	Store              = store.Store
	StoreRequest       = store.StoreRequest
	Entry              = store.Entry
	NamespaceInfo      = store.NamespaceInfo
	MetricsSummary     = store.MetricsSummary
	NamespaceMetrics   = store.NamespaceMetrics
	ImplementationInfo = store.ImplementationInfo
	StorageError       = backend.StorageError
	DetectionResult    = backend.Result
	Capability         = backend.Capability
	Detector           = backend.Detector
	Option             = store.Option
)

// Open selects a backend (capability detection unless pinned with
// WithBackend), opens it for path and returns a Ready store.
func Open(path string, opts ...Option) (*Store, error) {
	return store.Open(path, opts...)
}

// WithBackend pins the store to a specific engine.
func WithBackend(id backend.ID) Option { return store.WithBackend(id) }

// WithDetector supplies a caller-owned detector.
func WithDetector(d *Detector) Option { return store.WithDetector(d) }

// WithSnapshotThreshold tunes the wasm backend's batch flush.
func WithSnapshotThreshold(n int) Option { return store.WithSnapshotThreshold(n) }

// WithoutInstrumentation disables the store's own latency samples.
func WithoutInstrumentation() Option { return store.WithoutInstrumentation() }

// NewDetector returns a fresh capability detector with its own memoized
// cache.
func NewDetector() *Detector { return backend.NewDetector() }

// Detect probes the three engines with a one-shot detector and reports
// which are available on this host.
func Detect() (*DetectionResult, error) {
	return backend.NewDetector().Detect()
}
