// Package experiment defines the unit of batch work: one fully populated
// configuration tree, the FIFO queue that holds experiments until dispatch,
// the identifiers and replica seeds derived from queue position and content,
// and loaders for experiment descriptor files (YAML and HCL).
package experiment

import (
	"errors"
	"fmt"

	"github.com/cachesim/cachesim/sim/tree"
)

// Top-level branches every experiment must carry.
const (
	BranchTopology         = "topology"
	BranchWorkload         = "workload"
	BranchCachePlacement   = "cache_placement"
	BranchContentPlacement = "content_placement"
	BranchCachePolicy      = "cache_policy"
	BranchStrategy         = "strategy"

	// DescKey is the optional free-text description leaf.
	DescKey = "desc"
)

// RequiredBranches lists the mandatory top-level branches in canonical order.
var RequiredBranches = []string{
	BranchTopology,
	BranchWorkload,
	BranchCachePlacement,
	BranchContentPlacement,
	BranchCachePolicy,
	BranchStrategy,
}

// ErrMissingBranch reports an experiment without a required top-level branch.
var ErrMissingBranch = errors.New("missing required branch")

// Experiment is an immutable snapshot of a configuration tree.
// The zero ID means the experiment has not been enqueued.
type Experiment struct {
	tree *tree.Tree
	id   ID
}

// New snapshots t. Later edits to t do not affect the experiment.
// A nil tree yields an empty experiment, which fails Validate.
func New(t *tree.Tree) *Experiment {
	if t == nil {
		return &Experiment{tree: tree.New()}
	}
	return &Experiment{tree: t.Clone()}
}

// ID returns the identifier assigned when the experiment was enqueued.
func (e *Experiment) ID() ID { return e.id }

// Tree returns a copy of the experiment's configuration.
func (e *Experiment) Tree() *tree.Tree { return e.tree.Clone() }

// PlainConfig returns the configuration as plain nested maps.
func (e *Experiment) PlainConfig() map[string]any { return e.tree.ToPlainMapping() }

// Desc returns the description leaf, or "" if absent or not a string.
func (e *Experiment) Desc() string {
	v, ok := e.tree.Get(DescKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Validate checks that every required top-level branch is present as a branch.
// Branch contents are the engine's business and are not inspected.
func (e *Experiment) Validate() error {
	for _, name := range RequiredBranches {
		node, ok := e.tree.Lookup(name)
		if !ok {
			return fmt.Errorf("%w %q", ErrMissingBranch, name)
		}
		if node.IsLeaf() {
			return fmt.Errorf("%w %q: found a value, want a branch", ErrMissingBranch, name)
		}
	}
	return nil
}

func (e *Experiment) String() string {
	if d := e.Desc(); d != "" {
		return fmt.Sprintf("%s (%s)", e.id, d)
	}
	return e.id.String()
}
