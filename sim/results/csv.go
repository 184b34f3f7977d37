package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSVSerializer writes one row per record with a column per collector.
// Write-only: experiment configs are not part of the table.
type CSVSerializer struct{}

func (CSVSerializer) Name() string      { return "CSV" }
func (CSVSerializer) Extension() string { return ".csv" }

var csvColumns = []string{
	"experiment_id", "position", "desc", "replica", "seed", "status", "error",
}

func (CSVSerializer) Encode(w io.Writer, rs *ResultSet) error {
	desc := make(map[int]string, len(rs.Experiments))
	for _, e := range rs.Experiments {
		desc[e.Position] = e.Desc
	}

	writer := csv.NewWriter(w)
	header := append(append([]string{}, csvColumns...), rs.Collectors...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, r := range rs.Records {
		row := []string{
			r.ExperimentID,
			strconv.Itoa(r.Position),
			desc[r.Position],
			strconv.Itoa(r.Replica),
			strconv.FormatInt(r.Seed, 10),
			string(r.Status),
			r.Error,
		}
		for _, c := range rs.Collectors {
			v, ok := r.Metrics[c]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, formatCell(v))
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing CSV row %s/%d: %w", r.ExperimentID, r.Replica, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = formatCell(e)
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return fmt.Sprint(v)
	}
}
