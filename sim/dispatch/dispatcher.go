// Package dispatch runs every replica of every queued experiment on an engine
// and gathers exactly one record per (experiment, replica) pair.
//
// Workers never touch shared state. Every record and lifecycle transition is
// sent to a single ingestion goroutine that owns the aggregator and the trace.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cachesim/cachesim/sim/collector"
	"github.com/cachesim/cachesim/sim/engine"
	"github.com/cachesim/cachesim/sim/experiment"
	"github.com/cachesim/cachesim/sim/internal/value"
	"github.com/cachesim/cachesim/sim/results"
	"github.com/cachesim/cachesim/sim/trace"
	"github.com/sirupsen/logrus"
)

// Job is one experiment to run.
type Job struct {
	ID     experiment.ID
	Config map[string]any
}

// Options configures a Dispatcher.
type Options struct {
	Engine       engine.Engine
	Collectors   collector.Set
	Replications int
	BaseSeed     int64
	Substrate    Substrate         // Sequential when nil
	Trace        *trace.BatchTrace // optional
}

// Dispatcher schedules jobs onto a substrate.
type Dispatcher struct {
	opts Options
}

// New validates opts and returns a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Engine == nil {
		return nil, errors.New("dispatcher requires an engine")
	}
	if opts.Replications < 1 {
		return nil, fmt.Errorf("replications must be >= 1, got %d", opts.Replications)
	}
	if opts.Substrate == nil {
		opts.Substrate = Sequential{}
	}
	return &Dispatcher{opts: opts}, nil
}

// event is what workers send to the ingestion goroutine.
type event struct {
	transition *trace.Transition
	record     *results.Record
}

// Dispatch runs all jobs and returns their records ordered by position then
// replica.
//
// Replicas of one experiment run sequentially on one worker. An engine error
// or panic fails only that replica. There are no retries.
//
// When ctx is cancelled no new experiment starts; experiments already running
// finish all their replicas, and those never started are recorded as
// skipped. The record count is therefore always len(jobs) * Replications.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []Job) ([]results.Record, error) {
	events := make(chan event, 2*d.opts.Substrate.Workers()+1)
	agg := results.NewAggregator()
	ingested := make(chan error, 1)
	go func() {
		ingested <- d.ingest(events, agg)
	}()

	logrus.Infof("dispatching %d experiment(s) x %d replica(s) on %d worker(s)",
		len(jobs), d.opts.Replications, d.opts.Substrate.Workers())
	d.opts.Substrate.Run(len(jobs), func(worker, i int) {
		d.runJob(ctx, worker, jobs[i], events)
	})
	close(events)
	if err := <-ingested; err != nil {
		return nil, err
	}

	entries := make([]results.Entry, len(jobs))
	for i, j := range jobs {
		entries[i] = results.Entry{ID: j.ID.String(), Position: j.ID.Position}
	}
	return agg.Finalize(entries, d.opts.Replications)
}

// ingest drains events until the channel closes. It keeps draining after an
// error so workers never block.
func (d *Dispatcher) ingest(events <-chan event, agg *results.Aggregator) error {
	var firstErr error
	for ev := range events {
		if ev.transition != nil && d.opts.Trace != nil {
			if err := d.opts.Trace.Record(*ev.transition); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if ev.record != nil {
			if err := agg.Add(*ev.record); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Dispatcher) runJob(ctx context.Context, worker int, job Job, events chan<- event) {
	id := job.ID.String()
	pos := job.ID.Position

	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		logrus.Debugf("experiment %s: skipped (%v)", id, cause)
		for r := 0; r < d.opts.Replications; r++ {
			seed := experiment.ReplicaSeed(d.opts.BaseSeed, job.ID, r)
			rec := results.NewFailure(id, pos, r, seed, results.StatusSkipped, cause)
			events <- event{
				transition: &trace.Transition{ExperimentID: id, Position: pos, Replica: r, Worker: -1,
					From: trace.StateQueued, To: trace.StateSkipped, Reason: rec.Error},
				record: &rec,
			}
		}
		return
	}

	// In-flight experiments are never interrupted.
	runCtx := context.WithoutCancel(ctx)
	logrus.Infof("experiment %s: starting on worker %d", id, worker)
	var failed int
	for r := 0; r < d.opts.Replications; r++ {
		seed := experiment.ReplicaSeed(d.opts.BaseSeed, job.ID, r)
		events <- event{transition: &trace.Transition{ExperimentID: id, Position: pos, Replica: r, Worker: worker,
			From: trace.StateQueued, To: trace.StateRunning}}

		start := time.Now()
		rec := d.runReplica(runCtx, job, r, seed)
		to := trace.StateCompleted
		if !rec.OK() {
			to = trace.StateFailed
			failed++
			logrus.Warnf("experiment %s replica %d failed: %s", id, r, rec.Error)
		} else {
			logrus.Debugf("experiment %s replica %d completed (seed %d)", id, r, seed)
		}
		events <- event{
			transition: &trace.Transition{ExperimentID: id, Position: pos, Replica: r, Worker: worker,
				From: trace.StateRunning, To: to, Reason: rec.Error, ElapsedMs: time.Since(start).Milliseconds()},
			record: &rec,
		}
	}
	logrus.Infof("experiment %s: finished, %d/%d replica(s) completed", id, d.opts.Replications-failed, d.opts.Replications)
}

func (d *Dispatcher) runReplica(ctx context.Context, job Job, replica int, seed int64) results.Record {
	id := job.ID.String()
	fail := func(err error) results.Record {
		return results.NewFailure(id, job.ID.Position, replica, seed, results.StatusFailed, err)
	}
	raw, err := engine.Invoke(ctx, d.opts.Engine, copyConfig(job.Config), d.opts.Collectors, seed)
	if err != nil {
		return fail(err)
	}
	metrics, err := d.opts.Collectors.Collect(raw)
	if err != nil {
		return fail(err)
	}
	rec, err := results.NewCompleted(id, job.ID.Position, replica, seed, metrics)
	if err != nil {
		return fail(err)
	}
	return rec
}

// copyConfig gives each replica its own configuration so an engine that
// mutates its input cannot leak state into sibling replicas.
func copyConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	return value.Copy(cfg).(map[string]any)
}
