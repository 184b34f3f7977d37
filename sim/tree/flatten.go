package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strconv"
	"strings"

	"github.com/cachesim/cachesim/sim/internal/value"
)

// emptyBranch marks a branch with no children in a flattened tree.
type emptyBranch struct{}

func (emptyBranch) String() string { return "{}" }

// EmptyBranch is the Entry value standing for an auto-vivified branch that
// never received children. Without it such branches would vanish on a round trip.
var EmptyBranch any = emptyBranch{}

// Entry is one dotted-path/value pair of a flattened tree.
type Entry struct {
	Path  string
	Value any
}

func (e Entry) String() string {
	return fmt.Sprintf("%s = %v", e.Path, e.Value)
}

// Flatten lists every leaf (and every empty non-root branch) in depth-first
// insertion order. Unflatten(t.Flatten()) is equal to t.
func (t *Tree) Flatten() []Entry {
	var out []Entry
	t.flattenInto("", &out)
	return out
}

func (t *Tree) flattenInto(prefix string, out *[]Entry) {
	for _, k := range t.keys {
		c := t.children[k]
		p := joinPath(prefix, k)
		switch {
		case c.leaf:
			*out = append(*out, Entry{Path: p, Value: value.Copy(c.value)})
		case len(c.keys) == 0:
			*out = append(*out, Entry{Path: p, Value: EmptyBranch})
		default:
			c.flattenInto(p, out)
		}
	}
}

// Unflatten rebuilds a tree from entries, inserting keys in entry order.
func Unflatten(entries []Entry) (*Tree, error) {
	t := New()
	for _, e := range entries {
		path := strings.Split(e.Path, PathSeparator)
		if _, ok := e.Value.(emptyBranch); ok {
			node := t
			for _, k := range path {
				c, err := node.Child(k)
				if err != nil {
					return nil, err
				}
				node = c
			}
			continue
		}
		if err := t.SetLeaf(path, e.Value); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// FlatMap returns the flattened tree as a map keyed by dotted paths.
func (t *Tree) FlatMap() map[string]any {
	entries := t.Flatten()
	out := make(map[string]any, len(entries))
	for _, e := range entries {
		out[e.Path] = e.Value
	}
	return out
}

// UnflattenMap rebuilds a tree from a dotted-path map. Paths are inserted in
// sorted order.
func UnflattenMap(m map[string]any) (*Tree, error) {
	entries := make([]Entry, 0, len(m))
	for _, k := range sortedKeys(m) {
		entries = append(entries, Entry{Path: k, Value: m[k]})
	}
	return Unflatten(entries)
}

// Hash returns the hex SHA-256 of the tree's content. The digest ignores key
// insertion order and integer/float widths (int and int64 hash alike), but
// distinguishes integers from floats.
func (t *Tree) Hash() string {
	entries := t.Flatten()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.Path))
		h.Write([]byte{0})
		if _, ok := e.Value.(emptyBranch); ok {
			h.Write([]byte("{}"))
		} else {
			n, err := value.Normalize(e.Value)
			if err != nil {
				// Leaves are validated on write; unreachable.
				panic(fmt.Sprintf("tree: unhashable leaf at %s: %v", e.Path, err))
			}
			writeCanonical(h, n)
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeCanonical(h hash.Hash, v any) {
	switch x := v.(type) {
	case bool:
		h.Write([]byte("b:" + strconv.FormatBool(x)))
	case string:
		h.Write([]byte("s:" + strconv.Quote(x)))
	case int64:
		h.Write([]byte("i:" + strconv.FormatInt(x, 10)))
	case uint64:
		h.Write([]byte("i:" + strconv.FormatUint(x, 10)))
	case float64:
		h.Write([]byte("f:" + strconv.FormatFloat(x, 'g', -1, 64)))
	case []any:
		h.Write([]byte("["))
		for i, e := range x {
			if i > 0 {
				h.Write([]byte(","))
			}
			writeCanonical(h, e)
		}
		h.Write([]byte("]"))
	default:
		h.Write([]byte(fmt.Sprintf("?:%v", x)))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
