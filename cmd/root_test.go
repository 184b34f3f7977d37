package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachesim/cachesim/sim"
	"github.com/cachesim/cachesim/sim/collector"
	"github.com/cachesim/cachesim/sim/engine"
	"github.com/cachesim/cachesim/sim/results"
	"github.com/cachesim/cachesim/sim/trace"
)

const goldenDescriptors = "../testdata/golden_experiments.yaml"

// constEngine reports 0.5 for every requested collector.
var constEngine = engine.Func(func(_ context.Context, _ map[string]any, set collector.Set, _ int64) (map[string]any, error) {
	out := map[string]any{}
	for _, n := range set.Names() {
		out[n] = 0.5
	}
	return out, nil
})

func TestApplyOverrides_OnlyChangedFlagsOverride(t *testing.T) {
	// GIVEN a configuration loaded from a file and a command with two flags set
	c := &cobra.Command{Use: "test"}
	addOverrideFlags(c)
	require.NoError(t, c.Flags().Set("replications", "4"))
	require.NoError(t, c.Flags().Set("collectors", "CACHE_HIT_RATIO,LATENCY"))
	cfg := sim.DefaultRunConfig()
	cfg.NProcesses = 3
	cfg.ResultsFormat = "YAML"

	// WHEN overrides are applied
	applyOverrides(c, &cfg)

	// THEN only the changed flags replaced file values
	assert.Equal(t, 4, cfg.NReplications)
	assert.Equal(t, []string{collector.CacheHitRatio, collector.Latency}, cfg.DataCollectors)
	assert.Equal(t, 3, cfg.NProcesses, "unset --processes must not clobber the file value")
	assert.Equal(t, "YAML", cfg.ResultsFormat, "unset --format must not clobber the file value")
}

func TestApplyOverrides_GranularityUppercased(t *testing.T) {
	c := &cobra.Command{Use: "test"}
	addOverrideFlags(c)
	require.NoError(t, c.Flags().Set("granularity", "chunk"))
	cfg := sim.DefaultRunConfig()

	applyOverrides(c, &cfg)

	assert.Equal(t, sim.GranularityChunk, cfg.CachingGranularity)
}

func TestNewEngine(t *testing.T) {
	_, _, err := newEngine("", "")
	assert.ErrorContains(t, err, "no engine")

	_, _, err = newEngine("engine", "localhost:1")
	assert.ErrorContains(t, err, "mutually exclusive")

	_, _, err = newEngine("definitely-not-an-engine-binary-xyz --fast", "")
	assert.Error(t, err)

	e, closeEngine, err := newEngine("", "127.0.0.1:1")
	require.NoError(t, err)
	defer closeEngine()
	assert.Equal(t, "remote", engine.Name(e))
}

func TestRunBatch_WritesResultsAndTrace(t *testing.T) {
	// GIVEN the golden descriptors, two replications and a trace file
	dir := t.TempDir()
	cfg := sim.DefaultRunConfig()
	cfg.NReplications = 2
	cfg.DataCollectors = []string{collector.CacheHitRatio}
	out := filepath.Join(dir, "out.msgpack")
	traceOut := filepath.Join(dir, "trace.yaml")

	bt, err := newBatchTrace("replicas", traceOut)
	require.NoError(t, err)

	// WHEN the batch runs
	path, err := runBatch(context.Background(), []string{goldenDescriptors}, cfg, constEngine, out, bt, traceOut)

	// THEN the result file holds K*R completed records
	require.NoError(t, err)
	assert.Equal(t, out, path)
	rs, err := results.Load(path, results.MsgpackSerializer{})
	require.NoError(t, err)
	require.Len(t, rs.Records, 4)
	assert.Equal(t, 4, rs.Counts()[results.StatusCompleted])
	assert.Equal(t, 0.5, rs.Records[0].Metrics[collector.CacheHitRatio])

	// AND the trace records every replica's outcome
	bt, err = trace.ReadFile(traceOut)
	require.NoError(t, err)
	assert.Equal(t, 4, trace.Summarize(bt).ReplicaOutcomes[trace.StateCompleted])
}

func TestRunBatch_InvalidConfigWritesNothing(t *testing.T) {
	dir := t.TempDir()
	cfg := sim.DefaultRunConfig()
	cfg.DataCollectors = []string{"NOT_A_COLLECTOR"}
	out := filepath.Join(dir, "out.msgpack")

	_, err := runBatch(context.Background(), []string{goldenDescriptors}, cfg, constEngine, out, nil, "")

	var cve *sim.ConfigValidationError
	require.ErrorAs(t, err, &cve)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewBatchTrace_Levels(t *testing.T) {
	tests := []struct {
		level, out string
		wantTrace  bool
		wantErr    bool
	}{
		{level: "replicas", out: "trace.yaml", wantTrace: true},
		{level: "", out: "trace.yaml"},
		{level: "none", out: "trace.yaml"},
		{level: "replicas", out: ""},
		{level: "verbose", out: "trace.yaml", wantErr: true},
		{level: "verbose", out: "", wantErr: true},
	}
	for _, tc := range tests {
		bt, err := newBatchTrace(tc.level, tc.out)
		if tc.wantErr {
			assert.ErrorContains(t, err, "invalid trace level", "level %q", tc.level)
			continue
		}
		require.NoError(t, err, "level %q", tc.level)
		assert.Equal(t, tc.wantTrace, bt != nil, "level %q out %q", tc.level, tc.out)
		if bt != nil {
			assert.True(t, bt.Config.Enabled())
		}
	}
}

// brokenSerializer fails every encode.
type brokenSerializer struct{}

func (brokenSerializer) Name() string      { return "BROKEN" }
func (brokenSerializer) Extension() string { return ".broken" }
func (brokenSerializer) Encode(io.Writer, *results.ResultSet) error {
	return errors.New("value not representable")
}

func TestPersistWithFallback_RetriesAsJSON(t *testing.T) {
	// GIVEN a serializer that cannot encode the result set
	dir := t.TempDir()
	path := filepath.Join(dir, "results.broken")
	rs := &results.ResultSet{RunID: "r1", Replications: 1, Records: []results.Record{
		{ExperimentID: "0000-abc", Status: results.StatusCompleted, Metrics: map[string]any{"X": int64(1)}},
	}}

	// WHEN persisting
	got, err := persistWithFallback(rs, path, brokenSerializer{})

	// THEN the results land in <path>.json instead
	require.NoError(t, err)
	assert.Equal(t, path+".json", got)
	back, err := results.Load(got, results.JSONSerializer{})
	require.NoError(t, err)
	assert.Equal(t, "r1", back.RunID)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPersistWithFallback_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.yaml")
	got, err := persistWithFallback(&results.ResultSet{RunID: "r2"}, path, results.YAMLSerializer{})
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestValidateBatch_ListsExperiments(t *testing.T) {
	var buf bytes.Buffer
	cfg := sim.DefaultRunConfig()
	cfg.DataCollectors = []string{collector.Latency}

	err := validateBatch(&buf, []string{goldenDescriptors}, cfg)

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "0000-"))
	assert.Contains(t, lines[0], "LCE on PATH")
	assert.True(t, strings.HasPrefix(lines[1], "0001-"))
	assert.Contains(t, lines[2], "2 experiment(s) x 1 replication(s)")
	assert.Contains(t, lines[2], "MSGPACK")
}

func TestValidateBatch_MissingFile(t *testing.T) {
	err := validateBatch(io.Discard, []string{"does-not-exist.yaml"}, sim.DefaultRunConfig())
	assert.Error(t, err)
}
