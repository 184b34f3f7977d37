package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/cachesim/cachesim/sim/collector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "CACHESIM_ENGINE_HELPER"

// TestMain lets the test binary double as a subprocess engine: when
// helperEnv is set it answers one request according to the requested mode.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(helperEngine(mode))
	}
	os.Exit(m.Run())
}

func helperEngine(mode string) int {
	var req Request
	dec := json.NewDecoder(os.Stdin)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		fmt.Fprintln(os.Stderr, "bad request:", err)
		return 2
	}
	switch mode {
	case "ok":
		metrics := map[string]any{"SEED_ECHO": req.Seed, "N_COLLECTORS": len(req.Collectors)}
		for _, c := range req.Collectors {
			metrics[c] = 0.5
		}
		if topo, ok := req.Config["topology"].(map[string]any); ok {
			metrics["TOPOLOGY_N"] = topo["n"]
		}
		_ = json.NewEncoder(os.Stdout).Encode(Response{Metrics: metrics})
	case "error":
		_ = json.NewEncoder(os.Stdout).Encode(Response{Error: "topology not supported"})
	case "crash":
		fmt.Fprintln(os.Stderr, "segmentation fault (simulated)")
		return 3
	case "garbage":
		_, _ = io.WriteString(os.Stdout, "not json")
	}
	return 0
}

func helperExec(t *testing.T, mode string) *Exec {
	t.Helper()
	return &Exec{Path: os.Args[0], Env: append(os.Environ(), helperEnv+"="+mode)}
}

func resolve(t *testing.T, names ...string) collector.Set {
	t.Helper()
	s, err := collector.DefaultRegistry().Resolve(names)
	require.NoError(t, err)
	return s
}

func TestFunc_Run(t *testing.T) {
	f := Func(func(_ context.Context, cfg map[string]any, _ collector.Set, seed int64) (map[string]any, error) {
		return map[string]any{"seed": seed, "name": cfg["name"]}, nil
	})
	got, err := f.Run(context.Background(), map[string]any{"name": "x"}, collector.Set{}, 7)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"seed": int64(7), "name": "x"}, got)
}

func TestInvoke_WrapsErrorsAndPanics(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		engine    Func
		wantPanic bool
		wantMsg   string
	}{
		{
			name: "plain error",
			engine: func(context.Context, map[string]any, collector.Set, int64) (map[string]any, error) {
				return nil, errors.New("bad topology")
			},
			wantMsg: "bad topology",
		},
		{
			name: "panic",
			engine: func(context.Context, map[string]any, collector.Set, int64) (map[string]any, error) {
				panic("index out of range")
			},
			wantPanic: true,
			wantMsg:   "index out of range",
		},
		{
			name: "nil metrics",
			engine: func(context.Context, map[string]any, collector.Set, int64) (map[string]any, error) {
				return nil, nil
			},
			wantMsg: "no metrics",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Invoke(ctx, tc.engine, map[string]any{}, collector.Set{}, 1)

			var ee *EngineError
			require.ErrorAs(t, err, &ee)
			assert.ErrorIs(t, err, ErrEngine)
			assert.Equal(t, tc.wantPanic, ee.Panic)
			assert.Equal(t, "func", ee.Engine)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestInvoke_KeepsExistingEngineError(t *testing.T) {
	orig := &EngineError{Engine: "exec", Err: errors.New("exit status 3"), Stderr: "boom"}
	f := Func(func(context.Context, map[string]any, collector.Set, int64) (map[string]any, error) {
		return nil, orig
	})
	_, err := Invoke(context.Background(), f, nil, collector.Set{}, 0)
	assert.Same(t, orig, err)
}

func TestExec_Success(t *testing.T) {
	// GIVEN a subprocess engine that echoes its inputs
	e := helperExec(t, "ok")
	cfg := map[string]any{"topology": map[string]any{"name": "PATH", "n": int64(3)}}

	// WHEN one replica runs
	got, err := e.Run(context.Background(), cfg, resolve(t, collector.CacheHitRatio, collector.Latency), -99)

	// THEN the JSON response is decoded into canonical values
	require.NoError(t, err)
	assert.Equal(t, int64(-99), got["SEED_ECHO"])
	assert.Equal(t, int64(2), got["N_COLLECTORS"])
	assert.Equal(t, int64(3), got["TOPOLOGY_N"])
	assert.Equal(t, 0.5, got[collector.CacheHitRatio])
}

func TestExec_Failures(t *testing.T) {
	tests := []struct {
		mode       string
		wantMsg    string
		wantStderr string
	}{
		{mode: "error", wantMsg: "topology not supported"},
		{mode: "crash", wantMsg: "exit status 3", wantStderr: "segmentation fault (simulated)"},
		{mode: "garbage", wantMsg: "decoding response"},
	}
	for _, tc := range tests {
		t.Run(tc.mode, func(t *testing.T) {
			_, err := helperExec(t, tc.mode).Run(context.Background(), map[string]any{}, collector.Set{}, 1)

			var ee *EngineError
			require.ErrorAs(t, err, &ee)
			assert.Contains(t, err.Error(), tc.wantMsg)
			assert.Equal(t, tc.wantStderr, ee.Stderr)
		})
	}
}

func TestNewExec(t *testing.T) {
	_, err := NewExec(nil)
	assert.Error(t, err)
	_, err = NewExec([]string{"definitely-not-an-engine-binary-xyz"})
	assert.Error(t, err)

	e, err := NewExec([]string{os.Args[0], "--flag"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--flag"}, e.Args)
}

func TestDecodeResponse_NeitherMetricsNorError(t *testing.T) {
	_, err := decodeResponse([]byte(`{}`), "")
	assert.ErrorContains(t, err, "neither metrics nor error")
}

func TestTail_TruncatesLongStderr(t *testing.T) {
	long := make([]byte, maxStderr+100)
	for i := range long {
		long[i] = 'x'
	}
	got := tail(string(long))
	assert.Len(t, got, maxStderr+3)
	assert.Equal(t, "...", got[:3])
}
