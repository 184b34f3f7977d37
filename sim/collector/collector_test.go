package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_KnowsBuiltins(t *testing.T) {
	r := DefaultRegistry()
	for _, n := range []string{CacheHitRatio, Latency, LinkLoad, PathStretch, Dummy} {
		d, ok := r.Lookup(n)
		assert.True(t, ok, n)
		assert.Equal(t, n, d.Name)
	}
	assert.Len(t, r.Names(), 5)
}

func TestResolve_KeepsRequestOrder(t *testing.T) {
	s, err := DefaultRegistry().Resolve([]string{Latency, CacheHitRatio})
	require.NoError(t, err)
	assert.Equal(t, []string{Latency, CacheHitRatio}, s.Names())
	assert.Equal(t, CapabilityLatencySamples, s.Descriptors()[0].Capability)
}

func TestResolve_UnknownName(t *testing.T) {
	_, err := DefaultRegistry().Resolve([]string{CacheHitRatio, "THROUGHPUT"})
	assert.ErrorIs(t, err, ErrUnknownCollector)
	assert.ErrorContains(t, err, "THROUGHPUT")
}

func TestResolve_Duplicate(t *testing.T) {
	_, err := DefaultRegistry().Resolve([]string{Latency, Latency})
	assert.ErrorIs(t, err, ErrDuplicateCollector)
}

func TestResolve_Empty(t *testing.T) {
	s, err := DefaultRegistry().Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestRegister_CustomAndDuplicate(t *testing.T) {
	r := DefaultRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "CACHE_OCCUPANCY", Capability: "occupancy"}))
	_, err := r.Resolve([]string{"CACHE_OCCUPANCY"})
	assert.NoError(t, err)

	assert.ErrorIs(t, r.Register(Descriptor{Name: Latency}), ErrDuplicateCollector)
	assert.Error(t, r.Register(Descriptor{}))
}

func TestSet_Collect(t *testing.T) {
	s, err := DefaultRegistry().Resolve([]string{CacheHitRatio, Latency})
	require.NoError(t, err)

	// extra keys are dropped
	got, err := s.Collect(map[string]any{CacheHitRatio: 0.4, Latency: 12.5, "DEBUG": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{CacheHitRatio: 0.4, Latency: 12.5}, got)

	// missing requested key fails
	_, err = s.Collect(map[string]any{CacheHitRatio: 0.4})
	assert.ErrorIs(t, err, ErrMissingMetric)
	assert.ErrorContains(t, err, Latency)
}
