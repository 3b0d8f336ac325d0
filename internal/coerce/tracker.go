package coerce

import (
	"sort"
	"sync"
)

// ColumnStats accumulates what a run learned about one column.
type ColumnStats struct {
	Min     Value
	Max     Value
	Coerced int
	Errors  int
}

// Tracker coerces cells on behalf of named columns and keeps running
// min/max and error counts per column. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	stats map[string]*ColumnStats
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{stats: make(map[string]*ColumnStats)}
}

// Coerce converts raw to t and records the outcome under column.
func (tr *Tracker) Coerce(column string, raw *string, t Type) (Value, error) {
	v, err := Coerce(raw, t)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	st := tr.stats[column]
	if st == nil {
		st = &ColumnStats{}
		tr.stats[column] = st
	}
	if err != nil {
		st.Errors++
		return v, err
	}
	if v.IsNull() {
		return v, nil
	}
	st.Coerced++
	if t.Ordinal() {
		if st.Min.IsNull() || v.Compare(st.Min) < 0 {
			st.Min = v
		}
		if st.Max.IsNull() || v.Compare(st.Max) > 0 {
			st.Max = v
		}
	}
	return v, nil
}

// Stats returns a copy of the stats recorded for column.
func (tr *Tracker) Stats(column string) ColumnStats {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if st := tr.stats[column]; st != nil {
		return *st
	}
	return ColumnStats{}
}

// Errors returns the per-column failure counts, omitting clean columns.
func (tr *Tracker) Errors() map[string]int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make(map[string]int)
	for name, st := range tr.stats {
		if st.Errors > 0 {
			out[name] = st.Errors
		}
	}
	return out
}

// Columns returns the names of all columns seen, sorted.
func (tr *Tracker) Columns() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	names := make([]string, 0, len(tr.stats))
	for name := range tr.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
