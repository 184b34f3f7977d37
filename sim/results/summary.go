package results

import (
	"fmt"
	"io"
	"math"

	"github.com/cachesim/cachesim/sim/internal/value"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MetricSummary aggregates one numeric metric across completed replicas.
type MetricSummary struct {
	Name   string
	N      int
	Mean   float64
	StdDev float64
	// CI95 is the half-width of the 95% Student's t confidence interval.
	// Zero when fewer than two samples exist.
	CI95 float64
}

// ExperimentSummary is the per-experiment view of a ResultSet.
type ExperimentSummary struct {
	ID        string
	Position  int
	Desc      string
	Completed int
	Failed    int
	Skipped   int
	Metrics   []MetricSummary
}

// Summarize computes replica statistics for every experiment, in queue order.
// Only scalar numeric metrics are summarized; others are skipped.
func Summarize(rs *ResultSet) []ExperimentSummary {
	out := make([]ExperimentSummary, 0, len(rs.Experiments))
	for _, e := range rs.Experiments {
		s := ExperimentSummary{ID: e.ID, Position: e.Position, Desc: e.Desc}
		samples := make(map[string][]float64, len(rs.Collectors))
		for _, r := range rs.ForExperiment(e.Position) {
			switch r.Status {
			case StatusCompleted:
				s.Completed++
			case StatusFailed:
				s.Failed++
				continue
			case StatusSkipped:
				s.Skipped++
				continue
			}
			for _, name := range rs.Collectors {
				f, ok := numeric(r.Metrics[name])
				if !ok {
					continue
				}
				samples[name] = append(samples[name], f)
			}
		}
		for _, name := range rs.Collectors {
			x := samples[name]
			if len(x) == 0 {
				continue
			}
			s.Metrics = append(s.Metrics, summarizeSamples(name, x))
		}
		out = append(out, s)
	}
	return out
}

func summarizeSamples(name string, x []float64) MetricSummary {
	m := MetricSummary{Name: name, N: len(x)}
	if len(x) == 1 {
		m.Mean = x[0]
		return m
	}
	m.Mean, m.StdDev = stat.MeanStdDev(x, nil)
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(len(x) - 1)}
	m.CI95 = t.Quantile(0.975) * m.StdDev / math.Sqrt(float64(len(x)))
	return m
}

func numeric(v any) (float64, bool) {
	f, ok := value.Float64(v)
	if ok && math.IsNaN(f) {
		logrus.Debugf("skipping NaN metric sample")
		return 0, false
	}
	return f, ok
}

// PrintSummary writes a plain-text report of sums to w.
func PrintSummary(w io.Writer, sums []ExperimentSummary) {
	_, _ = fmt.Fprintln(w, "=== Experiment Summary ===")
	for _, s := range sums {
		title := s.ID
		if s.Desc != "" {
			title = fmt.Sprintf("%s (%s)", s.ID, s.Desc)
		}
		_, _ = fmt.Fprintf(w, "%s\n", title)
		_, _ = fmt.Fprintf(w, "  Replicas           : %d completed, %d failed, %d skipped\n", s.Completed, s.Failed, s.Skipped)
		for _, m := range s.Metrics {
			_, _ = fmt.Fprintf(w, "  %-18s : mean %.4g  sd %.4g  ±%.4g (n=%d)\n", m.Name, m.Mean, m.StdDev, m.CI95, m.N)
		}
	}
}
