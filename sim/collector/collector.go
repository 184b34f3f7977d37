// Package collector maps metric collector names to the capability each one
// observes during a run.
//
// The orchestration layer never computes metrics itself. Resolving the
// requested names yields a Set, an opaque handle passed to the engine, which
// alone knows how to populate each collector. Unknown names fail at
// validation time, before any experiment is dispatched.
package collector

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Capability describes what a collector observes.
type Capability string

const (
	CapabilityHitMiss        Capability = "hit_miss_counts"
	CapabilityLatencySamples Capability = "latency_samples"
	CapabilityLinkLoad       Capability = "link_load_sums"
	CapabilityPathStretch    Capability = "path_stretch_ratios"
	CapabilityNone           Capability = "none"
)

// Built-in collector names, as used in DATA_COLLECTORS.
const (
	CacheHitRatio = "CACHE_HIT_RATIO"
	Latency       = "LATENCY"
	LinkLoad      = "LINK_LOAD"
	PathStretch   = "PATH_STRETCH"
	Dummy         = "DUMMY"
)

var (
	// ErrUnknownCollector reports a name with no registered descriptor.
	ErrUnknownCollector = errors.New("unknown data collector")
	// ErrDuplicateCollector reports a name requested or registered twice.
	ErrDuplicateCollector = errors.New("duplicate data collector")
	// ErrMissingMetric reports an engine result lacking a requested collector.
	ErrMissingMetric = errors.New("engine produced no value for collector")
)

// Descriptor is the registry entry for one collector.
type Descriptor struct {
	Name        string
	Capability  Capability
	Description string
}

// Registry is a name to descriptor lookup. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Descriptor)}
}

// DefaultRegistry returns a registry holding the built-in collectors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range []Descriptor{
		{CacheHitRatio, CapabilityHitMiss, "cache hit ratio from hit/miss counts"},
		{Latency, CapabilityLatencySamples, "mean content retrieval latency"},
		{LinkLoad, CapabilityLinkLoad, "per-link internal/external load"},
		{PathStretch, CapabilityPathStretch, "ratio of actual to shortest path length"},
		{Dummy, CapabilityNone, "records nothing; for engine smoke tests"},
	} {
		// built-ins never collide
		_ = r.Register(d)
	}
	return r
}

// Register adds a descriptor. Registering an existing name fails.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownCollector)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCollector, d.Name)
	}
	r.entries[d.Name] = d
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[name]
	return d, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve turns requested names into a Set, keeping request order.
func (r *Registry) Resolve(names []string) (Set, error) {
	seen := make(map[string]bool, len(names))
	descs := make([]Descriptor, 0, len(names))
	for _, n := range names {
		if seen[n] {
			return Set{}, fmt.Errorf("%w: %s", ErrDuplicateCollector, n)
		}
		seen[n] = true
		d, ok := r.Lookup(n)
		if !ok {
			return Set{}, fmt.Errorf("%w: %s (known: %v)", ErrUnknownCollector, n, r.Names())
		}
		descs = append(descs, d)
	}
	return Set{descs: descs}, nil
}

// Set is the resolved, ordered collector handle passed to the engine.
// Immutable and safe to share between workers.
type Set struct {
	descs []Descriptor
}

// Names returns the collector names in request order.
func (s Set) Names() []string {
	out := make([]string, len(s.descs))
	for i, d := range s.descs {
		out[i] = d.Name
	}
	return out
}

// Descriptors returns the resolved descriptors in request order.
func (s Set) Descriptors() []Descriptor {
	out := make([]Descriptor, len(s.descs))
	copy(out, s.descs)
	return out
}

// Len returns the number of collectors.
func (s Set) Len() int { return len(s.descs) }

// Collect keeps the requested collectors' values from an engine result.
// Extra keys are dropped; a missing requested key fails with ErrMissingMetric.
func (s Set) Collect(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.descs))
	for _, d := range s.descs {
		v, ok := raw[d.Name]
		if !ok {
			return nil, fmt.Errorf("%w %s", ErrMissingMetric, d.Name)
		}
		out[d.Name] = v
	}
	if extra := len(raw) - len(out); extra > 0 {
		logrus.Debugf("dropping %d unrequested metric(s) from engine result", extra)
	}
	return out, nil
}
