package engine

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cachesim/cachesim/sim/collector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func startServer(t *testing.T, e Engine) *Remote {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, lis, e, nil) }()

	r, err := Dial(lis.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("engine server did not shut down after context cancellation")
		}
	})
	return r
}

func TestRemote_RoundTrip(t *testing.T) {
	// GIVEN an engine served over gRPC
	var mu sync.Mutex
	var gotSeed int64
	var gotNames []string
	r := startServer(t, Func(func(_ context.Context, cfg map[string]any, set collector.Set, seed int64) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		gotSeed = seed
		gotNames = set.Names()
		return map[string]any{
			collector.CacheHitRatio: 0.75,
			"TOPOLOGY":              cfg["topology"].(map[string]any)["name"],
		}, nil
	}))
	set := resolve(t, collector.CacheHitRatio, collector.Latency)

	// WHEN a replica runs remotely with a seed beyond float64 precision
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := r.Run(ctx, map[string]any{"topology": map[string]any{"name": "TREE"}}, set, -9007199254740993)

	// THEN metrics, seed and collector order survive the wire
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0.75, got[collector.CacheHitRatio])
	assert.Equal(t, "TREE", got["TOPOLOGY"])
	assert.Equal(t, int64(-9007199254740993), gotSeed)
	assert.Equal(t, []string{collector.CacheHitRatio, collector.Latency}, gotNames)
}

func TestRemote_EngineFailureReturnedInBody(t *testing.T) {
	r := startServer(t, Func(func(context.Context, map[string]any, collector.Set, int64) (map[string]any, error) {
		return nil, errors.New("cache placement infeasible")
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.Run(ctx, map[string]any{}, collector.Set{}, 1)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "remote", ee.Engine)
	assert.Contains(t, err.Error(), "cache placement infeasible")
}

func TestServer_RunStruct_RejectsMalformedRequests(t *testing.T) {
	s := NewServer(Func(func(context.Context, map[string]any, collector.Set, int64) (map[string]any, error) {
		return map[string]any{}, nil
	}), nil)
	tests := []struct {
		name string
		req  map[string]any
	}{
		{"missing config", map[string]any{"seed": "1"}},
		{"bad seed", map[string]any{"config": map[string]any{}, "seed": "x"}},
		{"unknown collector", map[string]any{"config": map[string]any{}, "seed": "1", "collectors": []any{"NOPE"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := structpb.NewStruct(tc.req)
			require.NoError(t, err)
			_, err = s.RunStruct(context.Background(), req)
			assert.Error(t, err)
		})
	}
}
