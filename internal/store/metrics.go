package store

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"memstore/internal/backend"
	"memstore/internal/logging"
	"memstore/internal/namespace"
)

// MetricSample is one append-only numeric observation. Samples are never
// mutated and never expire.
type MetricSample struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// MetricsSummary aggregates every sample sharing one name.
type MetricsSummary struct {
	Name      string    `json:"name"`
	Count     int64     `json:"count"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Mean      float64   `json:"mean"`
	LastValue float64   `json:"lastValue"`
	LastAt    time.Time `json:"lastAt"`
}

// NamespaceMetrics groups the summaries of samples tagged with one
// namespace.
type NamespaceMetrics struct {
	Namespace string            `json:"namespace"`
	Summaries []*MetricsSummary `json:"summaries"`
}

// namespaceTag is the tag key that associates a sample with a namespace.
// NamespaceMetrics groups exclusively by this tag.
const namespaceTag = "namespace"

// RecordMetric appends a sample.
func (s *Store) RecordMetric(name string, value float64, unit string, tags map[string]string) error {
	db, err := s.ready()
	if err != nil {
		return err
	}

	var tagsJSON any
	if tags != nil {
		data, err := json.Marshal(tags)
		if err != nil {
			return err
		}
		tagsJSON = string(data)
	}

	err = db.Exec(
		`INSERT INTO metric_samples (id, name, value, unit, tags, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), name, value, unit, tagsJSON, time.Now().UnixMilli(),
	)
	if err != nil {
		return err
	}
	logging.MetricsDebug("recorded metric %s=%v %s", name, value, unit)
	return nil
}

// MetricsSummary aggregates all samples named name, or nil when none
// exist.
func (s *Store) MetricsSummary(name string) (*MetricsSummary, error) {
	db, err := s.ready()
	if err != nil {
		return nil, err
	}

	row, err := db.QueryRow(
		`SELECT COUNT(*), COALESCE(MIN(value), 0), COALESCE(MAX(value), 0), COALESCE(AVG(value), 0)
		 FROM metric_samples WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{Name: name}
	if err := row.Scan(&summary.Count, &summary.Min, &summary.Max, &summary.Mean); err != nil {
		return nil, err
	}
	if summary.Count == 0 {
		return nil, nil
	}

	last, err := db.QueryRow(
		`SELECT value, recorded_at FROM metric_samples WHERE name = ? ORDER BY recorded_at DESC, rowid DESC LIMIT 1`, name)
	if err != nil {
		return nil, err
	}
	var lastAt int64
	if err := last.Scan(&summary.LastValue, &lastAt); err != nil {
		return nil, err
	}
	summary.LastAt = time.UnixMilli(lastAt)
	return summary, nil
}

// NamespaceMetrics returns metric summaries grouped by the namespace tag
// of each sample, for namespaces matching pattern. Samples without a
// namespace tag are skipped.
func (s *Store) NamespaceMetrics(pattern string) ([]NamespaceMetrics, error) {
	db, err := s.ready()
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "**"
	}

	rows, err := db.Query(
		`SELECT name, value, tags, recorded_at FROM metric_samples WHERE tags IS NOT NULL ORDER BY recorded_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type acc struct {
		count         int64
		min, max, sum float64
		lastValue     float64
		lastAt        int64
	}
	groups := make(map[string]map[string]*acc) // namespace -> metric name -> acc

	for rows.Next() {
		var name, tagsJSON string
		var value float64
		var recordedAt int64
		if err := rows.Scan(&name, &value, &tagsJSON, &recordedAt); err != nil {
			continue
		}
		var tags map[string]string
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			continue
		}
		ns, ok := tags[namespaceTag]
		if !ok || !namespace.MatchesPattern(ns, pattern) {
			continue
		}

		byName := groups[ns]
		if byName == nil {
			byName = make(map[string]*acc)
			groups[ns] = byName
		}
		a := byName[name]
		if a == nil {
			a = &acc{min: value, max: value}
			byName[name] = a
		}
		a.count++
		a.sum += value
		if value < a.min {
			a.min = value
		}
		if value > a.max {
			a.max = value
		}
		if recordedAt >= a.lastAt {
			a.lastAt = recordedAt
			a.lastValue = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := []NamespaceMetrics{}
	for ns, byName := range groups {
		nm := NamespaceMetrics{Namespace: ns}
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			a := byName[name]
			nm.Summaries = append(nm.Summaries, &MetricsSummary{
				Name:      name,
				Count:     a.count,
				Min:       a.min,
				Max:       a.max,
				Mean:      a.sum / float64(a.count),
				LastValue: a.lastValue,
				LastAt:    time.UnixMilli(a.lastAt),
			})
		}
		results = append(results, nm)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Namespace < results[j].Namespace })
	return results, nil
}

// recordOpSample is the store's own side-channel instrumentation for
// write paths. The engine id comes from the caller's adapter handle so a
// concurrent Close cannot pull it out from under us. Best-effort:
// failures are logged, never surfaced.
func (s *Store) recordOpSample(name string, elapsed time.Duration, ns string, engine backend.ID) {
	if !s.instrument {
		return
	}
	err := s.RecordMetric(name, float64(elapsed.Microseconds())/1000.0, "ms", map[string]string{
		namespaceTag: ns,
		"backend":    string(engine),
	})
	if err != nil {
		logging.MetricsDebug("instrumentation sample dropped: %v", err)
	}
}
