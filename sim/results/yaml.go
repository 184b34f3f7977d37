package results

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLSerializer writes a human-readable result file.
type YAMLSerializer struct{}

func (YAMLSerializer) Name() string      { return "YAML" }
func (YAMLSerializer) Extension() string { return ".yaml" }

func (YAMLSerializer) Encode(w io.Writer, rs *ResultSet) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rs); err != nil {
		return err
	}
	return enc.Close()
}

func (YAMLSerializer) Decode(r io.Reader) (*ResultSet, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var rs ResultSet
	if err := dec.Decode(&rs); err != nil {
		return nil, err
	}
	if err := canonicalize(&rs, passThrough); err != nil {
		return nil, err
	}
	return &rs, nil
}

func passThrough(v any) (any, error) { return v, nil }
