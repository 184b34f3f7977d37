package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cachesim/cachesim/sim/collector"
	"github.com/cachesim/cachesim/sim/engine"
	"github.com/cachesim/cachesim/sim/experiment"
	"github.com/cachesim/cachesim/sim/results"
	"github.com/cachesim/cachesim/sim/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeJobs(k int) []Job {
	jobs := make([]Job, k)
	for i := range jobs {
		jobs[i] = Job{
			ID:     experiment.ID{Position: i, Hash: fmt.Sprintf("%012x", i+1)},
			Config: map[string]any{"strategy": map[string]any{"name": "LCE"}, "index": int64(i)},
		}
	}
	return jobs
}

// seedEngine reports the hit ratio as a pure function of the seed.
var seedEngine = engine.Func(func(_ context.Context, _ map[string]any, set collector.Set, seed int64) (map[string]any, error) {
	out := map[string]any{}
	for _, n := range set.Names() {
		out[n] = float64(uint64(seed)%1000) / 1000
	}
	return out, nil
})

func collectors(t *testing.T, names ...string) collector.Set {
	t.Helper()
	s, err := collector.DefaultRegistry().Resolve(names)
	require.NoError(t, err)
	return s
}

func substrates(t *testing.T) map[string]Substrate {
	t.Helper()
	out := map[string]Substrate{"sequential": Sequential{}}
	for _, n := range []int{1, 2, 8} {
		p, err := NewPool(n)
		require.NoError(t, err)
		out[fmt.Sprintf("pool-%d", n)] = p
	}
	return out
}

func TestDispatch_RecordCountIsKTimesR(t *testing.T) {
	for name, sub := range substrates(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN 7 experiments and 3 replications
			d, err := New(Options{Engine: seedEngine, Collectors: collectors(t, collector.CacheHitRatio),
				Replications: 3, Substrate: sub})
			require.NoError(t, err)

			// WHEN dispatched
			recs, err := d.Dispatch(context.Background(), makeJobs(7))

			// THEN there are exactly K*R records in (position, replica) order
			require.NoError(t, err)
			require.Len(t, recs, 21)
			for i, r := range recs {
				assert.Equal(t, i/3, r.Position)
				assert.Equal(t, i%3, r.Replica)
				assert.Equal(t, results.StatusCompleted, r.Status)
			}
		})
	}
}

func TestDispatch_SeedsIndependentOfSubstrate(t *testing.T) {
	// GIVEN the same queue run twice on different substrates
	var runs [][]results.Record
	for _, sub := range []Substrate{Sequential{}, mustPool(t, 8)} {
		d, err := New(Options{Engine: seedEngine, Collectors: collectors(t, collector.CacheHitRatio),
			Replications: 4, BaseSeed: 1234, Substrate: sub})
		require.NoError(t, err)
		recs, err := d.Dispatch(context.Background(), makeJobs(5))
		require.NoError(t, err)
		runs = append(runs, recs)
	}

	// THEN seeds and results are identical per (experiment, replica)
	assert.Equal(t, runs[0], runs[1])
	seen := map[int64]bool{}
	for _, r := range runs[0] {
		assert.Equal(t, experiment.ReplicaSeed(1234, makeJobs(5)[r.Position].ID, r.Replica), r.Seed)
		seen[r.Seed] = true
	}
	assert.Len(t, seen, 20, "replica seeds must be distinct")
}

func mustPool(t *testing.T, n int) *Pool {
	t.Helper()
	p, err := NewPool(n)
	require.NoError(t, err)
	return p
}

func TestDispatch_FailureIsolation(t *testing.T) {
	// GIVEN an engine failing replica 2 of experiment 3 (of 5)
	const R = 3
	failing := engine.Func(func(ctx context.Context, cfg map[string]any, set collector.Set, seed int64) (map[string]any, error) {
		if cfg["index"] == int64(2) && seed == experiment.ReplicaSeed(0, makeJobs(5)[2].ID, 1) {
			return nil, errors.New("link capacity exceeded")
		}
		return seedEngine(ctx, cfg, set, seed)
	})
	d, err := New(Options{Engine: failing, Collectors: collectors(t, collector.CacheHitRatio),
		Replications: R, Substrate: mustPool(t, 2)})
	require.NoError(t, err)

	// WHEN dispatched
	recs, err := d.Dispatch(context.Background(), makeJobs(5))
	require.NoError(t, err)

	// THEN only that replica failed
	rs := &results.ResultSet{Records: recs}
	for pos := 0; pos < 5; pos++ {
		exp := rs.ForExperiment(pos)
		require.Len(t, exp, R)
		var failed int
		for _, r := range exp {
			if !r.OK() {
				failed++
				assert.Equal(t, 1, r.Replica)
				assert.Contains(t, r.Error, "link capacity exceeded")
				assert.Nil(t, r.Metrics)
			}
		}
		if pos == 2 {
			assert.Equal(t, 1, failed)
		} else {
			assert.Equal(t, 0, failed, "experiment %d", pos)
		}
	}
}

func TestDispatch_PanicBecomesFailureRecord(t *testing.T) {
	panicky := engine.Func(func(_ context.Context, cfg map[string]any, _ collector.Set, _ int64) (map[string]any, error) {
		if cfg["index"] == int64(0) {
			panic("nil topology graph")
		}
		return map[string]any{}, nil
	})
	d, err := New(Options{Engine: panicky, Replications: 2, Substrate: mustPool(t, 2)})
	require.NoError(t, err)

	recs, err := d.Dispatch(context.Background(), makeJobs(2))

	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, results.StatusFailed, recs[0].Status)
	assert.Contains(t, recs[0].Error, "panicked")
	assert.True(t, recs[2].OK())
}

func TestDispatch_MissingCollectorFailsReplica(t *testing.T) {
	partial := engine.Func(func(context.Context, map[string]any, collector.Set, int64) (map[string]any, error) {
		return map[string]any{collector.CacheHitRatio: 0.1}, nil
	})
	d, err := New(Options{Engine: partial, Collectors: collectors(t, collector.CacheHitRatio, collector.Latency), Replications: 1})
	require.NoError(t, err)

	recs, err := d.Dispatch(context.Background(), makeJobs(1))

	require.NoError(t, err)
	assert.Equal(t, results.StatusFailed, recs[0].Status)
	assert.Contains(t, recs[0].Error, collector.Latency)
}

func TestDispatch_Scenario_TwoExperimentsTwoReplicas(t *testing.T) {
	// GIVEN queue [expA, expB], R=2, two collectors, two workers
	jobs := makeJobs(2)
	d, err := New(Options{Engine: seedEngine,
		Collectors:   collectors(t, collector.CacheHitRatio, collector.Latency),
		Replications: 2, Substrate: mustPool(t, 2)})
	require.NoError(t, err)

	// WHEN dispatched
	recs, err := d.Dispatch(context.Background(), jobs)

	// THEN 4 records with exactly the requested keys, in order
	require.NoError(t, err)
	require.Len(t, recs, 4)
	want := []results.Key{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	for i, r := range recs {
		assert.Equal(t, want[i], r.Key())
		assert.Equal(t, jobs[r.Position].ID.String(), r.ExperimentID)
		assert.Len(t, r.Metrics, 2)
		assert.Contains(t, r.Metrics, collector.CacheHitRatio)
		assert.Contains(t, r.Metrics, collector.Latency)
	}
}

func TestDispatch_CancellationSkipsUnstartedExperiments(t *testing.T) {
	// GIVEN an engine that cancels the batch during experiment 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	eng := engine.Func(func(runCtx context.Context, cfg map[string]any, _ collector.Set, _ int64) (map[string]any, error) {
		calls.Add(1)
		if cfg["index"] == int64(1) {
			cancel()
		}
		// in-flight replicas never see the cancellation
		if runCtx.Err() != nil {
			return nil, runCtx.Err()
		}
		return map[string]any{}, nil
	})
	bt := trace.NewBatchTrace(trace.TraceConfig{Level: trace.TraceLevelReplicas})
	d, err := New(Options{Engine: eng, Replications: 2, Trace: bt})
	require.NoError(t, err)

	// WHEN four experiments are dispatched sequentially
	recs, err := d.Dispatch(ctx, makeJobs(4))

	// THEN experiments 0 and 1 complete fully and 2, 3 are skipped
	require.NoError(t, err)
	require.Len(t, recs, 8)
	counts := (&results.ResultSet{Records: recs}).Counts()
	assert.Equal(t, 4, counts[results.StatusCompleted])
	assert.Equal(t, 4, counts[results.StatusSkipped])
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, results.StatusSkipped, recs[4].Status)
	assert.Contains(t, recs[4].Error, "context canceled")

	// AND the trace shows the skipped replicas never ran
	sum := trace.Summarize(bt)
	assert.Equal(t, 4, sum.ReplicaOutcomes[trace.StateSkipped])
	assert.Equal(t, 4, sum.ReplicaOutcomes[trace.StateCompleted])
}

func TestDispatch_EngineGetsPrivateConfigCopy(t *testing.T) {
	var mu sync.Mutex
	var seen []any
	mutating := engine.Func(func(_ context.Context, cfg map[string]any, _ collector.Set, _ int64) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		strategy := cfg["strategy"].(map[string]any)
		seen = append(seen, strategy["name"])
		strategy["name"] = "MUTATED"
		return map[string]any{}, nil
	})
	jobs := makeJobs(1)
	d, err := New(Options{Engine: mutating, Replications: 3})
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), jobs)

	require.NoError(t, err)
	assert.Equal(t, []any{"LCE", "LCE", "LCE"}, seen)
	assert.Equal(t, "LCE", jobs[0].Config["strategy"].(map[string]any)["name"])
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := New(Options{Replications: 1})
	assert.Error(t, err)
	_, err = New(Options{Engine: seedEngine, Replications: 0})
	assert.Error(t, err)
	_, err = NewPool(0)
	assert.Error(t, err)
}

func TestPool_RespectsWorkerLimit(t *testing.T) {
	p := mustPool(t, 3)
	var running, peak atomic.Int32
	var mu sync.Mutex
	workers := map[int]bool{}
	p.Run(20, func(worker, _ int) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		mu.Lock()
		workers[worker] = true
		mu.Unlock()
		running.Add(-1)
	})
	assert.LessOrEqual(t, peak.Load(), int32(3))
	for w := range workers {
		assert.True(t, w >= 0 && w < 3)
	}
}
