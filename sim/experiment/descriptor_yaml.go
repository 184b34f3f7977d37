package experiment

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/cachesim/cachesim/sim/tree"
)

// experimentsKey is the top-level key of a multi-experiment YAML descriptor.
const experimentsKey = "experiments"

// ParseYAML parses a YAML descriptor. Two shapes are accepted:
//
//	experiments:          # a list of experiments
//	  - topology: {name: GEANT}
//	    ...
//
// or a single experiment mapping at the top level. Key order is preserved,
// which a plain map decode would lose.
func ParseYAML(data []byte) ([]*tree.Tree, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	root := resolveAlias(&doc)
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, nil
		}
		root = resolveAlias(root.Content[0])
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping", root.Line)
	}

	if list := mappingValue(root, experimentsKey); list != nil {
		if len(root.Content) != 2 {
			return nil, fmt.Errorf("line %d: %q must be the only top-level key", root.Line, experimentsKey)
		}
		list = resolveAlias(list)
		if list.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("line %d: %q must be a list", list.Line, experimentsKey)
		}
		trees := make([]*tree.Tree, 0, len(list.Content))
		for i, item := range list.Content {
			t, err := yamlExperiment(resolveAlias(item))
			if err != nil {
				return nil, fmt.Errorf("experiment %d: %w", i, err)
			}
			trees = append(trees, t)
		}
		return trees, nil
	}

	t, err := yamlExperiment(root)
	if err != nil {
		return nil, err
	}
	return []*tree.Tree{t}, nil
}

func yamlExperiment(n *yaml.Node) (*tree.Tree, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: experiment must be a mapping", n.Line)
	}
	t := tree.New()
	if err := fillFromYAML(t, n); err != nil {
		return nil, err
	}
	return t, nil
}

func fillFromYAML(t *tree.Tree, m *yaml.Node) error {
	seen := make(map[string]int, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		keyNode, valNode := m.Content[i], resolveAlias(m.Content[i+1])
		key := keyNode.Value
		if first, dup := seen[key]; dup {
			return fmt.Errorf("line %d: key %q already defined at line %d", keyNode.Line, key, first)
		}
		seen[key] = keyNode.Line
		switch valNode.Kind {
		case yaml.MappingNode:
			c, err := t.Child(key)
			if err != nil {
				return fmt.Errorf("line %d: %w", keyNode.Line, err)
			}
			if err := fillFromYAML(c, valNode); err != nil {
				return err
			}
		case yaml.SequenceNode:
			var v []any
			if err := valNode.Decode(&v); err != nil {
				return fmt.Errorf("line %d: %w", valNode.Line, err)
			}
			if err := t.Set(key, v); err != nil {
				return fmt.Errorf("line %d: %w", valNode.Line, err)
			}
		case yaml.ScalarNode:
			var v any
			if err := valNode.Decode(&v); err != nil {
				return fmt.Errorf("line %d: %w", valNode.Line, err)
			}
			if v == nil {
				return fmt.Errorf("line %d: key %q has a null value", valNode.Line, key)
			}
			if err := t.Set(key, v); err != nil {
				return fmt.Errorf("line %d: %w", valNode.Line, err)
			}
		default:
			return fmt.Errorf("line %d: unsupported YAML node for key %q", valNode.Line, key)
		}
	}
	return nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

// MarshalYAML renders trees in the multi-experiment descriptor shape,
// preserving key order.
func MarshalYAML(trees []*tree.Tree) ([]byte, error) {
	list := &yaml.Node{Kind: yaml.SequenceNode}
	for _, t := range trees {
		n, err := treeToYAML(t)
		if err != nil {
			return nil, err
		}
		list.Content = append(list.Content, n)
	}
	root := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: experimentsKey},
		list,
	}}
	return yaml.Marshal(root)
}

func treeToYAML(t *tree.Tree) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range t.Keys() {
		c, _ := t.Lookup(k)
		var valNode *yaml.Node
		if v, ok := c.Value(); ok {
			valNode = &yaml.Node{}
			if err := valNode.Encode(v); err != nil {
				return nil, fmt.Errorf("%s: %w", c.Path(), err)
			}
		} else {
			var err error
			if valNode, err = treeToYAML(c); err != nil {
				return nil, err
			}
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, valNode)
	}
	return n, nil
}
