// Package testutil provides shared test infrastructure for the orchestration
// packages: golden experiment descriptors, a deterministic in-process engine
// and assertion helpers.
package testutil

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/cachesim/cachesim/sim/collector"
	"github.com/cachesim/cachesim/sim/engine"
	"github.com/cachesim/cachesim/sim/experiment"
	"github.com/cachesim/cachesim/sim/tree"
)

// GoldenDescriptorPath returns the path of testdata/golden_experiments.yaml.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func GoldenDescriptorPath(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "golden_experiments.yaml")
}

// LoadGoldenExperiments parses the golden descriptor file.
func LoadGoldenExperiments(t *testing.T) []*tree.Tree {
	t.Helper()
	data, err := os.ReadFile(GoldenDescriptorPath(t))
	if err != nil {
		t.Fatalf("Failed to read golden descriptors: %v", err)
	}
	trees, err := experiment.ParseYAML(data)
	if err != nil {
		t.Fatalf("Failed to parse golden descriptors: %v", err)
	}
	return trees
}

// ExperimentTree builds a minimal valid experiment. Each override is a dotted
// path set after the defaults.
func ExperimentTree(t *testing.T, desc string, overrides map[string]any) *tree.Tree {
	t.Helper()
	e := tree.New()
	set := func(path string, v any) {
		if err := e.SetPath(path, v); err != nil {
			t.Fatalf("setting %s: %v", path, err)
		}
	}
	if desc != "" {
		set(experiment.DescKey, desc)
	}
	set("topology.name", "PATH")
	set("topology.n", 3)
	set("workload.name", "STATIONARY")
	set("workload.alpha", 0.8)
	set("cache_placement.name", "UNIFORM")
	set("cache_placement.network_cache", 0.01)
	set("content_placement.name", "UNIFORM")
	set("cache_policy.name", "LRU")
	set("strategy.name", "LCE")
	for k, v := range overrides {
		set(k, v)
	}
	return e
}

// FakeEngine is a deterministic in-process engine. Every requested collector
// gets a value drawn from a generator seeded with the replica seed, so equal
// seeds give equal metrics.
var FakeEngine = engine.Func(func(_ context.Context, _ map[string]any, set collector.Set, seed int64) (map[string]any, error) {
	rng := experiment.NewReplicaRand(seed)
	out := make(map[string]any, set.Len())
	for _, d := range set.Descriptors() {
		switch d.Capability {
		case collector.CapabilityHitMiss:
			out[d.Name] = rng.Float64()
		case collector.CapabilityLatencySamples:
			out[d.Name] = 10 + 90*rng.Float64()
		case collector.CapabilityLinkLoad:
			out[d.Name] = map[string]any{"internal": rng.Float64(), "external": rng.Float64()}
		case collector.CapabilityPathStretch:
			out[d.Name] = 1 + rng.Float64()
		default:
			out[d.Name] = int64(0)
		}
	}
	return out, nil
})

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
