// Package store implements the namespace-addressed durable memory store
// on top of the backend adapter. Entries are addressed by a
// (namespace, key) composite identity; at most one live entry exists per
// identity and a later Store with the same identity overwrites in place.
package store

import "time"

// Entry is one stored memory record.
type Entry struct {
	Key       string         `json:"key"`
	Namespace string         `json:"namespace"`
	Value     any            `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	// ExpiresAt is nil for entries without a TTL. An entry is live while
	// now is strictly before ExpiresAt; at the expiry instant it is dead.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	// AccessCount tracks successful exact retrievals.
	AccessCount int64 `json:"accessCount"`
}

// StoreRequest carries the parameters of a Store call.
type StoreRequest struct {
	Key   string
	Value any
	// Namespace defaults to "default" when empty. It is normalized and
	// validated before use.
	Namespace string
	Metadata  map[string]any
	// TTL is the time-to-live in seconds; zero means the entry never
	// expires.
	TTL int64
}

// NamespaceInfo aggregates the live entries of one namespace.
type NamespaceInfo struct {
	Namespace       string    `json:"namespace"`
	EntryCount      int64     `json:"entryCount"`
	OldestEntry     time.Time `json:"oldestEntry"`
	NewestEntry     time.Time `json:"newestEntry"`
	ApproxSizeBytes int64     `json:"approxSizeBytes"`
}

// ImplementationInfo reports which engine is active and what the last
// detection pass found.
type ImplementationInfo struct {
	Name      string   `json:"name"`
	Available []string `json:"available"`
}
