package results

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoSerializer writes the result set as a binary google.protobuf.Struct.
// Struct numbers are doubles, so seeds travel as decimal strings and integral
// metric values come back as int64.
type ProtoSerializer struct{}

func (ProtoSerializer) Name() string      { return "PROTO" }
func (ProtoSerializer) Extension() string { return ".pb" }

func (ProtoSerializer) Encode(w io.Writer, rs *ResultSet) error {
	s, err := ToStruct(rs)
	if err != nil {
		return err
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func (ProtoSerializer) Decode(r io.Reader) (*ResultSet, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return FromStruct(&s)
}

// ToStruct converts rs into a protobuf Struct.
func ToStruct(rs *ResultSet) (*structpb.Struct, error) {
	collectors := make([]any, len(rs.Collectors))
	for i, c := range rs.Collectors {
		collectors[i] = c
	}
	experiments := make([]any, len(rs.Experiments))
	for i, e := range rs.Experiments {
		experiments[i] = map[string]any{
			"id":       e.ID,
			"position": e.Position,
			"desc":     e.Desc,
			"config":   e.Config,
		}
	}
	records := make([]any, len(rs.Records))
	for i, r := range rs.Records {
		m := map[string]any{
			"experiment_id": r.ExperimentID,
			"position":      r.Position,
			"replica":       r.Replica,
			"seed":          strconv.FormatInt(r.Seed, 10),
			"status":        string(r.Status),
		}
		if r.Error != "" {
			m["error"] = r.Error
		}
		if r.Metrics != nil {
			m["metrics"] = r.Metrics
		}
		records[i] = m
	}
	s, err := structpb.NewStruct(map[string]any{
		"run_id":       rs.RunID,
		"format":       rs.Format,
		"replications": rs.Replications,
		"collectors":   collectors,
		"experiments":  experiments,
		"records":      records,
	})
	if err != nil {
		return nil, fmt.Errorf("building protobuf struct: %w", err)
	}
	return s, nil
}

// FromStruct is the inverse of ToStruct.
func FromStruct(s *structpb.Struct) (*ResultSet, error) {
	m := s.AsMap()
	rs := &ResultSet{
		RunID:        str(m["run_id"]),
		Format:       str(m["format"]),
		Replications: integer(m["replications"]),
	}
	for _, c := range list(m["collectors"]) {
		rs.Collectors = append(rs.Collectors, str(c))
	}
	for _, raw := range list(m["experiments"]) {
		e, _ := raw.(map[string]any)
		cfg, err := walkMap(object(e["config"]), fromDouble)
		if err != nil {
			return nil, err
		}
		rs.Experiments = append(rs.Experiments, Entry{
			ID:       str(e["id"]),
			Position: integer(e["position"]),
			Desc:     str(e["desc"]),
			Config:   cfg,
		})
	}
	for _, raw := range list(m["records"]) {
		r, _ := raw.(map[string]any)
		seed, err := strconv.ParseInt(str(r["seed"]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("record seed: %w", err)
		}
		rec := Record{
			ExperimentID: str(r["experiment_id"]),
			Position:     integer(r["position"]),
			Replica:      integer(r["replica"]),
			Seed:         seed,
			Status:       Status(str(r["status"])),
			Error:        str(r["error"]),
		}
		if mm, ok := r["metrics"].(map[string]any); ok {
			if rec.Metrics, err = walkMap(mm, fromDouble); err != nil {
				return nil, err
			}
		}
		rs.Records = append(rs.Records, rec)
	}
	return rs, nil
}

func fromDouble(v any) (any, error) {
	f, ok := v.(float64)
	if !ok {
		return v, nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), nil
	}
	return f, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func integer(v any) int {
	f, _ := v.(float64)
	return int(f)
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func object(v any) map[string]any {
	o, _ := v.(map[string]any)
	return o
}
