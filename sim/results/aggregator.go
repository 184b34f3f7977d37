package results

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDuplicateRecord reports a second record for the same (position, replica).
	ErrDuplicateRecord = errors.New("duplicate result record")
	// ErrMissingRecord reports an expected (position, replica) with no record.
	ErrMissingRecord = errors.New("missing result record")
	// ErrUnexpectedRecord reports a record that matches no expected pair.
	ErrUnexpectedRecord = errors.New("unexpected result record")
)

// Aggregator accumulates records from all workers.
//
// Thread-safety: NOT thread-safe. It is owned by a single ingestion
// goroutine; workers hand records to that goroutine over a channel.
type Aggregator struct {
	records map[Key]Record
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{records: make(map[Key]Record)}
}

// Add stores r. A second record for the same key is rejected and the first
// one kept.
func (a *Aggregator) Add(r Record) error {
	k := r.Key()
	if prev, ok := a.records[k]; ok {
		return fmt.Errorf("%w: experiment %s replica %d (already %s)", ErrDuplicateRecord, r.ExperimentID, r.Replica, prev.Status)
	}
	a.records[k] = r
	return nil
}

// Len returns the number of records received so far.
func (a *Aggregator) Len() int { return len(a.records) }

// Finalize checks that every entry has exactly replicas records, with IDs
// matching the entry, and returns them ordered by position then replica.
func (a *Aggregator) Finalize(entries []Entry, replicas int) ([]Record, error) {
	want := make(map[Key]string, len(entries)*replicas)
	var missing []string
	for _, e := range entries {
		for r := 0; r < replicas; r++ {
			k := Key{Position: e.Position, Replica: r}
			want[k] = e.ID
			if _, ok := a.records[k]; !ok {
				missing = append(missing, fmt.Sprintf("%s/%d", e.ID, r))
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingRecord, strings.Join(missing, ", "))
	}

	out := make([]Record, 0, len(a.records))
	for k, r := range a.records {
		id, ok := want[k]
		if !ok || id != r.ExperimentID {
			return nil, fmt.Errorf("%w: experiment %s position %d replica %d", ErrUnexpectedRecord, r.ExperimentID, k.Position, k.Replica)
		}
		out = append(out, r)
	}
	SortRecords(out)
	return out, nil
}

// SortRecords orders records by position, then replica.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Position != records[j].Position {
			return records[i].Position < records[j].Position
		}
		return records[i].Replica < records[j].Replica
	})
}
