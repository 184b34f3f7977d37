package results

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cachesim/cachesim/sim/internal/value"
)

// JSONSerializer writes indented JSON. Integral floats come back as int64.
type JSONSerializer struct{}

func (JSONSerializer) Name() string      { return "JSON" }
func (JSONSerializer) Extension() string { return ".json" }

func (JSONSerializer) Encode(w io.Writer, rs *ResultSet) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rs)
}

func (JSONSerializer) Decode(r io.Reader) (*ResultSet, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var rs ResultSet
	if err := dec.Decode(&rs); err != nil {
		return nil, err
	}
	if err := canonicalize(&rs, value.FromJSON); err != nil {
		return nil, err
	}
	return &rs, nil
}

// canonicalize rewrites decoded config and metric values through fix and then
// into their canonical forms.
func canonicalize(rs *ResultSet, fix func(any) (any, error)) error {
	for i := range rs.Experiments {
		c, err := walkMap(rs.Experiments[i].Config, fix)
		if err != nil {
			return fmt.Errorf("experiment %s config: %w", rs.Experiments[i].ID, err)
		}
		rs.Experiments[i].Config = c
	}
	for i := range rs.Records {
		if rs.Records[i].Metrics == nil {
			continue
		}
		m, err := walkMap(rs.Records[i].Metrics, fix)
		if err != nil {
			return fmt.Errorf("record %s/%d metrics: %w", rs.Records[i].ExperimentID, rs.Records[i].Replica, err)
		}
		rs.Records[i].Metrics = m
	}
	return nil
}

func walkMap(m map[string]any, fix func(any) (any, error)) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		w, err := walk(v, fix)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = w
	}
	return out, nil
}

func walk(v any, fix func(any) (any, error)) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return walkMap(t, fix)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			w, err := walk(e, fix)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case int:
		return int64(t), nil
	default:
		return fix(v)
	}
}
