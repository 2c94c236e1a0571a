package backend

import (
	"errors"
	"testing"
	"time"
)

func TestDetectorFindsAtLeastOneBackend(t *testing.T) {
	d := NewDetector()
	res, err := d.Detect()
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// The pure-Go interpreter needs no native code, so at minimum it
	// must be present on any platform the tests run on.
	if len(res.Available) < 1 {
		t.Fatalf("expected at least one available backend, got %v", res.Available)
	}
	if res.Recommended != res.Available[0] {
		t.Errorf("recommended = %s, want first available %s", res.Recommended, res.Available[0])
	}

	found := false
	for _, id := range res.Available {
		if id == WASM {
			found = true
		}
	}
	if !found {
		t.Errorf("wasm backend missing from available set %v; errors: %v", res.Available, res.Errors)
	}
}

func TestDetectorPriorityOrder(t *testing.T) {
	d := NewDetector()
	res, err := d.Detect()
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// Available ids must appear in probe priority order.
	rank := map[ID]int{NativeSync: 0, NativeAsync: 1, WASM: 2}
	for i := 1; i < len(res.Available); i++ {
		if rank[res.Available[i-1]] >= rank[res.Available[i]] {
			t.Errorf("available list not in priority order: %v", res.Available)
		}
	}

	if len(res.Capabilities) != len(Priority) {
		t.Errorf("expected %d capability records, got %d", len(Priority), len(res.Capabilities))
	}
	for _, c := range res.Capabilities {
		if c.Available {
			if _, hasErr := res.Errors[c.ID]; hasErr {
				t.Errorf("backend %s both available and errored", c.ID)
			}
		} else {
			if _, hasErr := res.Errors[c.ID]; !hasErr {
				t.Errorf("backend %s unavailable but no error recorded", c.ID)
			}
		}
	}
}

func TestDetectorMemoizesUntilClear(t *testing.T) {
	d := NewDetector()
	first, err := d.Detect()
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	second, err := d.Detect()
	if err != nil {
		t.Fatalf("second Detect failed: %v", err)
	}
	if first != second {
		t.Error("expected memoized result on repeated Detect")
	}

	d.Clear()
	third, err := d.Detect()
	if err != nil {
		t.Fatalf("Detect after Clear failed: %v", err)
	}
	if third == first {
		t.Error("expected a fresh result after Clear")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(ID("imaginary"), MemoryPath)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestDetectorCustomTimeout(t *testing.T) {
	d := NewDetectorWithTimeout(10 * time.Second)
	res, err := d.Detect()
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	for _, c := range res.Capabilities {
		if c.Available && c.InitTime <= 0 {
			t.Errorf("backend %s available with non-positive init time %v", c.ID, c.InitTime)
		}
	}
}
