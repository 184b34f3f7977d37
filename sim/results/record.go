// Package results collects per-replica outcomes into one ordered result set
// and persists it in a pluggable format.
//
// Every (experiment, replica) pair ends up with exactly one Record: a
// completed run with its metrics, or an explicit failure. Records are ordered
// by queue position then replica index, whatever order workers finish in.
package results

import (
	"fmt"

	"github.com/cachesim/cachesim/sim/internal/value"
)

// Status is the terminal state of one replica.
type Status string

const (
	// StatusCompleted: the engine returned metrics.
	StatusCompleted Status = "completed"
	// StatusFailed: the engine returned an error, panicked, or its result was unusable.
	StatusFailed Status = "failed"
	// StatusSkipped: the batch was cancelled before the experiment started.
	StatusSkipped Status = "skipped"
)

// Record is the outcome of one replica. Never mutated after creation.
type Record struct {
	ExperimentID string         `json:"experiment_id" yaml:"experiment_id" msgpack:"experiment_id"`
	Position     int            `json:"position" yaml:"position" msgpack:"position"`
	Replica      int            `json:"replica" yaml:"replica" msgpack:"replica"`
	Seed         int64          `json:"seed" yaml:"seed" msgpack:"seed"`
	Status       Status         `json:"status" yaml:"status" msgpack:"status"`
	Error        string         `json:"error,omitempty" yaml:"error,omitempty" msgpack:"error,omitempty"`
	Metrics      map[string]any `json:"metrics,omitempty" yaml:"metrics,omitempty" msgpack:"metrics"`
}

// Key identifies a record within a batch.
type Key struct {
	Position int
	Replica  int
}

// Key returns the record's (position, replica) pair.
func (r Record) Key() Key { return Key{Position: r.Position, Replica: r.Replica} }

// OK reports whether the replica completed.
func (r Record) OK() bool { return r.Status == StatusCompleted }

// NewCompleted builds a success record. Metric values are normalized to their
// canonical forms; a value with no canonical form is an error.
func NewCompleted(experimentID string, position, replica int, seed int64, metrics map[string]any) (Record, error) {
	m, err := value.NormalizeMap(metrics)
	if err != nil {
		return Record{}, fmt.Errorf("normalizing metrics: %w", err)
	}
	return Record{
		ExperimentID: experimentID,
		Position:     position,
		Replica:      replica,
		Seed:         seed,
		Status:       StatusCompleted,
		Metrics:      m,
	}, nil
}

// NewFailure builds a failed or skipped record carrying cause's message.
func NewFailure(experimentID string, position, replica int, seed int64, status Status, cause error) Record {
	r := Record{
		ExperimentID: experimentID,
		Position:     position,
		Replica:      replica,
		Seed:         seed,
		Status:       status,
	}
	if cause != nil {
		r.Error = cause.Error()
	}
	return r
}

// Entry describes one experiment of the batch, so records can be traced back
// to the configuration that produced them.
type Entry struct {
	ID       string         `json:"id" yaml:"id" msgpack:"id"`
	Position int            `json:"position" yaml:"position" msgpack:"position"`
	Desc     string         `json:"desc,omitempty" yaml:"desc,omitempty" msgpack:"desc,omitempty"`
	Config   map[string]any `json:"config" yaml:"config" msgpack:"config"`
}

// NewEntry builds an Entry from an experiment's plain configuration.
func NewEntry(id string, position int, desc string, config map[string]any) (Entry, error) {
	c, err := value.NormalizeMap(config)
	if err != nil {
		return Entry{}, fmt.Errorf("experiment %s: normalizing config: %w", id, err)
	}
	return Entry{ID: id, Position: position, Desc: desc, Config: c}, nil
}

// ResultSet is the complete, ordered output of one batch run.
type ResultSet struct {
	RunID        string   `json:"run_id" yaml:"run_id" msgpack:"run_id"`
	Format       string   `json:"format" yaml:"format" msgpack:"format"`
	Replications int      `json:"replications" yaml:"replications" msgpack:"replications"`
	Collectors   []string `json:"collectors" yaml:"collectors" msgpack:"collectors"`
	Experiments  []Entry  `json:"experiments" yaml:"experiments" msgpack:"experiments"`
	Records      []Record `json:"records" yaml:"records" msgpack:"records"`
}

// Len returns the number of records.
func (rs *ResultSet) Len() int { return len(rs.Records) }

// Counts returns how many records ended in each status.
func (rs *ResultSet) Counts() map[Status]int {
	out := make(map[Status]int, 3)
	for _, r := range rs.Records {
		out[r.Status]++
	}
	return out
}

// ForExperiment returns the records of one experiment in replica order.
func (rs *ResultSet) ForExperiment(position int) []Record {
	var out []Record
	for _, r := range rs.Records {
		if r.Position == position {
			out = append(out, r)
		}
	}
	return out
}
