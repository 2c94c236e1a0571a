package backend

import (
	"fmt"
	"sync"
	"time"

	"memstore/internal/logging"
)

// Capability describes one probed engine. Detection output only; never
// persisted.
type Capability struct {
	ID               ID
	Available        bool
	PerformanceScore int
	CrossPlatform    bool
	WASMSupport      bool
	InitTime         time.Duration
}

// Result ranks the engines that initialized successfully, in priority
// order. Errors holds the probe failure for every engine that did not.
type Result struct {
	Available    []ID
	Recommended  ID
	Errors       map[ID]error
	Capabilities []Capability
}

// Static scores reflecting the relative throughput of each engine; the
// native binding wins, the interpreter trades speed for portability.
var performanceScores = map[ID]int{
	NativeSync:  95,
	NativeAsync: 80,
	WASM:        60,
}

// DefaultProbeTimeout bounds a single engine probe. Probes are the only
// time-bounded storage operations in the module.
const DefaultProbeTimeout = 2 * time.Second

// Detector probes the engines and memoizes the outcome. It owns its
// cache; Clear drops it so tests can force a re-probe without touching
// global state.
type Detector struct {
	mu      sync.Mutex
	timeout time.Duration
	cached  *Result
}

// NewDetector returns a Detector with the default probe timeout.
func NewDetector() *Detector {
	return &Detector{timeout: DefaultProbeTimeout}
}

// NewDetectorWithTimeout returns a Detector with a custom probe timeout.
func NewDetectorWithTimeout(timeout time.Duration) *Detector {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Detector{timeout: timeout}
}

// Detect probes every engine in priority order and ranks the successes.
// A failing probe is captured in Result.Errors, never propagated as a
// fault. The only error case is ErrNoBackendAvailable, when all three
// engines fail to initialize. Results are memoized until Clear.
func (d *Detector) Detect() (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil {
		return d.cached, d.noneAvailableErr(d.cached)
	}

	timer := logging.StartTimer(logging.CategoryDetect, "Detector.Detect")
	defer timer.Stop()

	res := &Result{Errors: make(map[ID]error)}
	for _, id := range Priority {
		initTime, err := d.probe(id)
		res.Capabilities = append(res.Capabilities, Capability{
			ID:               id,
			Available:        err == nil,
			PerformanceScore: performanceScores[id],
			CrossPlatform:    id == WASM,
			WASMSupport:      id == WASM,
			InitTime:         initTime,
		})
		if err != nil {
			logging.Detect("backend %s unavailable: %v", id, err)
			res.Errors[id] = err
			continue
		}
		logging.Detect("backend %s available (init %v)", id, initTime)
		res.Available = append(res.Available, id)
	}
	if len(res.Available) > 0 {
		res.Recommended = res.Available[0]
	}

	d.cached = res
	return res, d.noneAvailableErr(res)
}

// Clear drops the memoized result so the next Detect re-probes.
func (d *Detector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = nil
}

func (d *Detector) noneAvailableErr(res *Result) error {
	if len(res.Available) == 0 {
		return ErrNoBackendAvailable
	}
	return nil
}

// probe attempts a bounded-time open and round-trip of an in-memory
// database on the given engine. Absence, load failure, and panics inside
// a broken binding are all captured as ordinary errors.
func (d *Detector) probe(id ID) (time.Duration, error) {
	start := time.Now()
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		done <- tryBackend(id)
	}()

	select {
	case err := <-done:
		return time.Since(start), err
	case <-time.After(d.timeout):
		return d.timeout, fmt.Errorf("probe timed out after %v", d.timeout)
	}
}

// tryBackend opens an in-memory database on the engine and performs a
// trivial write/read cycle.
func tryBackend(id ID) error {
	a, err := Open(id, MemoryPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Exec("CREATE TABLE probe (id INTEGER PRIMARY KEY, v TEXT)"); err != nil {
		return err
	}
	if err := a.Exec("INSERT INTO probe (v) VALUES (?)", "ok"); err != nil {
		return err
	}
	row, err := a.QueryRow("SELECT v FROM probe WHERE id = 1")
	if err != nil {
		return err
	}
	var v string
	if err := row.Scan(&v); err != nil {
		return err
	}
	if v != "ok" {
		return fmt.Errorf("probe round-trip returned %q", v)
	}
	return nil
}
