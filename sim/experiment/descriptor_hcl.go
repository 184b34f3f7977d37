// This file converts HCL experiment descriptors into configuration trees.
// Blocks become branches and attributes become leaves, in source order:
//
//	experiment {
//	  desc = "LCE on GEANT"
//	  topology {
//	    name = "GEANT"
//	  }
//	  cache_placement {
//	    name          = "UNIFORM"
//	    network_cache = 0.01
//	  }
//	}

package experiment

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/cachesim/cachesim/sim/tree"
)

// experimentBlock is the only top-level block type in an HCL descriptor.
const experimentBlock = "experiment"

// ParseHCL parses an HCL descriptor with one or more experiment blocks.
// filename is used in diagnostics only.
func ParseHCL(data []byte, filename string) ([]*tree.Tree, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("unexpected HCL body type %T", file.Body)
	}
	if len(body.Attributes) > 0 {
		return nil, fmt.Errorf("%s: top-level attributes are not allowed; wrap them in an %s block",
			firstAttribute(body).SrcRange, experimentBlock)
	}

	trees := make([]*tree.Tree, 0, len(body.Blocks))
	for _, block := range body.Blocks {
		if block.Type != experimentBlock {
			return nil, fmt.Errorf("%s: unexpected block %q, want %q", block.DefRange(), block.Type, experimentBlock)
		}
		if len(block.Labels) > 1 {
			return nil, fmt.Errorf("%s: %s block takes at most one label", block.DefRange(), experimentBlock)
		}
		t := tree.New()
		if err := fillFromHCL(t, block.Body); err != nil {
			return nil, err
		}
		// A label doubles as the description when no desc attribute is given.
		if len(block.Labels) == 1 {
			if _, ok := t.Lookup(DescKey); !ok {
				if err := t.Set(DescKey, block.Labels[0]); err != nil {
					return nil, err
				}
			}
		}
		trees = append(trees, t)
	}
	return trees, nil
}

// bodyItem is an attribute or nested block, ordered by source offset.
type bodyItem struct {
	offset int
	attr   *hclsyntax.Attribute
	block  *hclsyntax.Block
}

func (it bodyItem) name() (string, hcl.Range) {
	if it.block != nil {
		return it.block.Type, it.block.DefRange()
	}
	return it.attr.Name, it.attr.SrcRange
}

func fillFromHCL(t *tree.Tree, body *hclsyntax.Body) error {
	items := make([]bodyItem, 0, len(body.Attributes)+len(body.Blocks))
	for _, a := range body.Attributes {
		items = append(items, bodyItem{offset: a.SrcRange.Start.Byte, attr: a})
	}
	for _, b := range body.Blocks {
		items = append(items, bodyItem{offset: b.TypeRange.Start.Byte, block: b})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].offset < items[j].offset })

	seen := make(map[string]hcl.Range, len(items))
	for _, it := range items {
		name, rng := it.name()
		if first, dup := seen[name]; dup {
			return fmt.Errorf("%s: %q already defined at %s", rng, name, first)
		}
		seen[name] = rng
		if it.block != nil {
			if len(it.block.Labels) > 0 {
				return fmt.Errorf("%s: nested block %q must not have labels", it.block.DefRange(), it.block.Type)
			}
			c, err := t.Child(it.block.Type)
			if err != nil {
				return fmt.Errorf("%s: %w", it.block.DefRange(), err)
			}
			if err := fillFromHCL(c, it.block.Body); err != nil {
				return err
			}
			continue
		}
		v, diags := it.attr.Expr.Value(nil)
		if diags.HasErrors() {
			return fmt.Errorf("%s: %s", it.attr.SrcRange, diags.Error())
		}
		if err := setCty(t, it.attr.Name, v, it.attr.SrcRange); err != nil {
			return err
		}
	}
	return nil
}

// setCty stores v under key: objects and maps become branches, everything
// else a leaf.
func setCty(t *tree.Tree, key string, v cty.Value, rng hcl.Range) error {
	if v.IsNull() || !v.IsWhollyKnown() {
		return fmt.Errorf("%s: attribute %q has no known value", rng, key)
	}
	ty := v.Type()
	if ty.IsObjectType() || ty.IsMapType() {
		c, err := t.Child(key)
		if err != nil {
			return fmt.Errorf("%s: %w", rng, err)
		}
		attrs := v.AsValueMap()
		names := make([]string, 0, len(attrs))
		for k := range attrs {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if err := setCty(c, k, attrs[k], rng); err != nil {
				return err
			}
		}
		return nil
	}
	leaf, err := ctyToLeaf(v)
	if err != nil {
		return fmt.Errorf("%s: attribute %q: %w", rng, key, err)
	}
	if err := t.Set(key, leaf); err != nil {
		return fmt.Errorf("%s: %w", rng, err)
	}
	return nil
}

// ctyToLeaf converts a scalar or a list/tuple/set of scalars.
// Whole numbers become int64, others float64.
func ctyToLeaf(v cty.Value) (any, error) {
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, e := it.Element()
			if e.IsNull() {
				return nil, fmt.Errorf("null list element")
			}
			if !e.Type().IsPrimitiveType() {
				return nil, fmt.Errorf("list elements must be scalars, got %s", e.Type().FriendlyName())
			}
			leaf, err := ctyToLeaf(e)
			if err != nil {
				return nil, err
			}
			out = append(out, leaf)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}

func firstAttribute(body *hclsyntax.Body) *hclsyntax.Attribute {
	var first *hclsyntax.Attribute
	for _, a := range body.Attributes {
		if first == nil || a.SrcRange.Start.Byte < first.SrcRange.Start.Byte {
			first = a
		}
	}
	return first
}
