// Package tree implements the ordered, auto-vivifying configuration tree used to
// assemble one experiment's parameters.
//
// A node is either a leaf holding a value or a branch holding ordered children,
// never both. Writing through a missing key creates the intermediate branches:
//
//	t := tree.New()
//	_ = t.SetPath("topology.name", "GEANT")
//	_ = t.SetPath("cache_placement.network_cache", 0.01)
//
// Trees are not safe for concurrent mutation. Experiments hand a clone to the
// queue, so the tree a caller keeps editing is never the one being executed.
package tree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/cachesim/cachesim/sim/internal/value"
)

// PathSeparator joins keys in flattened paths.
const PathSeparator = "."

var (
	// ErrStructuralConflict is matched by every *StructuralConflict.
	ErrStructuralConflict = errors.New("structural conflict")
	// ErrInvalidKey reports an empty key or a key containing PathSeparator.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidValue reports a leaf value that is not a scalar or scalar array.
	ErrInvalidValue = errors.New("invalid leaf value")
)

// StructuralConflict reports a leaf/branch collision at Path.
type StructuralConflict struct {
	Path   string
	Reason string
}

func (e *StructuralConflict) Error() string {
	return fmt.Sprintf("structural conflict at %q: %s", e.Path, e.Reason)
}

// Is makes errors.Is(err, ErrStructuralConflict) hold for any conflict.
func (e *StructuralConflict) Is(target error) bool {
	return target == ErrStructuralConflict
}

// Tree is one node of a configuration tree.
type Tree struct {
	path     string
	leaf     bool
	value    any
	keys     []string
	children map[string]*Tree
}

// New returns an empty root branch.
func New() *Tree {
	return &Tree{children: make(map[string]*Tree)}
}

func newChild(parent *Tree, key string) *Tree {
	child := New()
	child.path = joinPath(parent.path, key)
	return child
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + PathSeparator + key
}

func validateKey(key string) error {
	if key == "" || strings.Contains(key, PathSeparator) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Path returns the dotted path of this node from the root ("" for the root).
func (t *Tree) Path() string { return t.path }

// IsLeaf reports whether the node holds a value.
func (t *Tree) IsLeaf() bool { return t.leaf }

// Len returns the number of children (0 for leaves).
func (t *Tree) Len() int { return len(t.keys) }

// Keys returns the child keys in insertion order.
func (t *Tree) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Value returns a copy of the leaf value. ok is false for branches.
func (t *Tree) Value() (v any, ok bool) {
	if !t.leaf {
		return nil, false
	}
	return value.Copy(t.value), true
}

// Child returns the child at key, creating an empty branch if it does not exist.
// Fails with a *StructuralConflict if this node is a leaf.
func (t *Tree) Child(key string) (*Tree, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if t.leaf {
		return nil, &StructuralConflict{Path: t.path, Reason: "cannot create child " + key + " under a leaf"}
	}
	if c, ok := t.children[key]; ok {
		return c, nil
	}
	c := newChild(t, key)
	t.children[key] = c
	t.keys = append(t.keys, key)
	return c, nil
}

// MustChild walks keys with Child and panics on error.
// Intended for literal descriptors in Go code, where a conflict is a bug.
func (t *Tree) MustChild(keys ...string) *Tree {
	node := t
	for _, k := range keys {
		c, err := node.Child(k)
		if err != nil {
			panic(err)
		}
		node = c
	}
	return node
}

// Set assigns v to the child at key, turning it into a leaf.
// Overwriting a leaf or claiming an empty branch is allowed; a child that
// already has children is a *StructuralConflict.
func (t *Tree) Set(key string, v any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if !value.IsLeafKind(v) {
		return fmt.Errorf("%w at %q: %T", ErrInvalidValue, joinPath(t.path, key), v)
	}
	c, err := t.Child(key)
	if err != nil {
		return err
	}
	if len(c.keys) > 0 {
		return &StructuralConflict{Path: c.path, Reason: "cannot assign a value to a branch with children"}
	}
	c.leaf = true
	c.value = value.Copy(v)
	c.children = nil
	return nil
}

// SetLeaf auto-vivifies every intermediate branch along path and assigns v to
// the final key.
func (t *Tree) SetLeaf(path []string, v any) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidKey)
	}
	node := t
	for _, k := range path[:len(path)-1] {
		c, err := node.Child(k)
		if err != nil {
			return err
		}
		node = c
	}
	return node.Set(path[len(path)-1], v)
}

// SetPath is SetLeaf with a dotted path.
func (t *Tree) SetPath(dotted string, v any) error {
	return t.SetLeaf(strings.Split(dotted, PathSeparator), v)
}

// Lookup returns the node at path without creating anything.
func (t *Tree) Lookup(path ...string) (*Tree, bool) {
	node := t
	for _, k := range path {
		if node.leaf {
			return nil, false
		}
		c, ok := node.children[k]
		if !ok {
			return nil, false
		}
		node = c
	}
	return node, true
}

// Get returns a copy of the leaf value at path. ok is false when the path is
// missing or ends at a branch.
func (t *Tree) Get(path ...string) (any, bool) {
	node, ok := t.Lookup(path...)
	if !ok {
		return nil, false
	}
	return node.Value()
}

// GetPath is Get with a dotted path.
func (t *Tree) GetPath(dotted string) (any, bool) {
	return t.Get(strings.Split(dotted, PathSeparator)...)
}

// Clone returns a deep copy of the subtree rooted at t.
func (t *Tree) Clone() *Tree {
	out := &Tree{path: t.path, leaf: t.leaf}
	if t.leaf {
		out.value = value.Copy(t.value)
		return out
	}
	out.children = make(map[string]*Tree, len(t.children))
	out.keys = make([]string, len(t.keys))
	copy(out.keys, t.keys)
	for _, k := range t.keys {
		out.children[k] = t.children[k].Clone()
	}
	return out
}

// leafEqual compares leaf values by dynamic type and content. NaN equals NaN.
var leafEqual = []cmp.Option{cmpopts.EquateNaNs()}

// Equal reports whether both trees have the same shape, key order and values.
func (t *Tree) Equal(o *Tree) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.leaf != o.leaf {
		return false
	}
	if t.leaf {
		return cmp.Equal(t.value, o.value, leafEqual...)
	}
	if len(t.keys) != len(o.keys) {
		return false
	}
	for i, k := range t.keys {
		if o.keys[i] != k {
			return false
		}
		if !t.children[k].Equal(o.children[k]) {
			return false
		}
	}
	return true
}

// ToPlainMapping converts the tree into ordinary nested maps. Missing keys in
// the result stay missing: probing it never creates anything.
// Leaf values are deep copies with their original types.
func (t *Tree) ToPlainMapping() map[string]any {
	out := make(map[string]any, len(t.keys))
	for _, k := range t.keys {
		c := t.children[k]
		if c.leaf {
			out[k] = value.Copy(c.value)
		} else {
			out[k] = c.ToPlainMapping()
		}
	}
	return out
}

// FromPlainMapping builds a tree from nested maps. Map keys are inserted in
// sorted order since Go maps carry none.
func FromPlainMapping(m map[string]any) (*Tree, error) {
	t := New()
	if err := fillFromMapping(t, m); err != nil {
		return nil, err
	}
	return t, nil
}

func fillFromMapping(t *Tree, m map[string]any) error {
	for _, k := range sortedKeys(m) {
		switch v := m[k].(type) {
		case map[string]any:
			c, err := t.Child(k)
			if err != nil {
				return err
			}
			if err := fillFromMapping(c, v); err != nil {
				return err
			}
		default:
			if err := t.Set(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tree) String() string {
	var sb strings.Builder
	for i, e := range t.Flatten() {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(e.String())
	}
	return sb.String()
}
