package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/cachesim/cachesim/sim/collector"
	"github.com/cachesim/cachesim/sim/dispatch"
	"github.com/cachesim/cachesim/sim/engine"
	"github.com/cachesim/cachesim/sim/experiment"
	"github.com/cachesim/cachesim/sim/results"
	"github.com/cachesim/cachesim/sim/trace"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Validate checks cfg and every queued experiment without dispatching
// anything, returning the resolved collector set and serializer.
func Validate(q *experiment.Queue, cfg RunConfig, reg *collector.Registry, formats *results.Formats) (collector.Set, results.Serializer, error) {
	set, serializer, err := cfg.Validate(reg, formats)
	if err != nil {
		return collector.Set{}, nil, err
	}
	for _, exp := range q.Items() {
		if err := exp.Validate(); err != nil {
			return collector.Set{}, nil, invalid("experiment "+exp.ID().String(), "%v", err)
		}
	}
	return set, serializer, nil
}

// RunOptions carries the collaborators of a batch run.
type RunOptions struct {
	Engine engine.Engine
	// Registry resolves DATA_COLLECTORS; the built-in registry when nil.
	Registry *collector.Registry
	// Formats resolves RESULTS_FORMAT; the built-in formats when nil.
	Formats *results.Formats
	// Trace receives replica lifecycle transitions when non-nil.
	Trace *trace.BatchTrace
}

// Run validates cfg and every queued experiment, then drains the queue and
// runs each experiment cfg.NReplications times on opts.Engine.
//
// Validation failures return a *ConfigValidationError before anything is
// dispatched, leaving the queue untouched. Engine failures never fail the
// batch: they become failure records in the returned set.
func Run(ctx context.Context, q *experiment.Queue, cfg RunConfig, opts RunOptions) (*results.ResultSet, error) {
	if opts.Engine == nil {
		return nil, errors.New("run requires an engine")
	}
	if opts.Registry == nil {
		opts.Registry = collector.DefaultRegistry()
	}
	if opts.Formats == nil {
		opts.Formats = results.DefaultFormats()
	}

	set, serializer, err := Validate(q, cfg, opts.Registry, opts.Formats)
	if err != nil {
		return nil, err
	}

	entries := make([]results.Entry, 0, q.Len())
	jobs := make([]dispatch.Job, 0, q.Len())
	for {
		exp, ok := q.PopFront()
		if !ok {
			break
		}
		plain := exp.PlainConfig()
		if _, present := plain[GranularityKey]; !present {
			plain[GranularityKey] = cfg.CachingGranularity
		}
		entry, err := results.NewEntry(exp.ID().String(), exp.ID().Position, exp.Desc(), plain)
		if err != nil {
			return nil, invalid("experiment "+exp.ID().String(), "%v", err)
		}
		entries = append(entries, entry)
		jobs = append(jobs, dispatch.Job{ID: exp.ID(), Config: entry.Config})
	}

	var substrate dispatch.Substrate = dispatch.Sequential{}
	if cfg.ParallelExecution {
		pool, err := dispatch.NewPool(cfg.NProcesses)
		if err != nil {
			return nil, invalid("N_PROCESSES", "%v", err)
		}
		substrate = pool
	}
	d, err := dispatch.New(dispatch.Options{
		Engine:       opts.Engine,
		Collectors:   set,
		Replications: cfg.NReplications,
		BaseSeed:     cfg.Seed,
		Substrate:    substrate,
		Trace:        opts.Trace,
	})
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logrus.Infof("run %s: %s", runID, cfg)
	records, err := d.Dispatch(ctx, jobs)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	rs := &results.ResultSet{
		RunID:        runID,
		Format:       serializer.Name(),
		Replications: cfg.NReplications,
		Collectors:   set.Names(),
		Experiments:  entries,
		Records:      records,
	}
	counts := rs.Counts()
	logrus.Infof("run %s: %d record(s): %d completed, %d failed, %d skipped", runID, rs.Len(),
		counts[results.StatusCompleted], counts[results.StatusFailed], counts[results.StatusSkipped])
	return rs, nil
}
