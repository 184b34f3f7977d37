package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachesim/cachesim/sim/results"
	"github.com/cachesim/cachesim/sim/trace"
)

var (
	summaryIn    string // Result file
	summaryFrom  string // Result format
	summaryTrace string // Optional trace YAML from --trace-out
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Print per-experiment metric means and 95% confidence intervals",
	Run: func(cmd *cobra.Command, args []string) {
		if err := summarize(os.Stdout, results.DefaultFormats(), summaryIn, summaryFrom, summaryTrace); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func summarize(w io.Writer, formats *results.Formats, in, from, tracePath string) error {
	s, err := formatForPath(formats, from, in)
	if err != nil {
		return err
	}
	rs, err := results.Load(in, s)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Run %s: %d record(s), %d replication(s)\n", rs.RunID, rs.Len(), rs.Replications)
	results.PrintSummary(w, results.Summarize(rs))

	if tracePath == "" {
		return nil
	}
	bt, err := trace.ReadFile(tracePath)
	if err != nil {
		return err
	}
	printTraceSummary(w, trace.Summarize(bt))
	return nil
}

func printTraceSummary(w io.Writer, ts *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Transitions: %d\n", ts.TotalTransitions)
	for _, st := range []trace.State{trace.StateCompleted, trace.StateFailed, trace.StateSkipped} {
		fmt.Fprintf(w, "  %-10s %d\n", st, ts.ReplicaOutcomes[st])
	}
	fmt.Fprintf(w, "Run time: mean %.1f ms, max %d ms\n", ts.MeanRunMs, ts.MaxRunMs)
	workers := make([]int, 0, len(ts.WorkerDistribution))
	for id := range ts.WorkerDistribution {
		workers = append(workers, id)
	}
	sort.Ints(workers)
	fmt.Fprintf(w, "Workers: %d\n", ts.UniqueWorkers)
	for _, id := range workers {
		fmt.Fprintf(w, "  worker %d: %d experiment(s)\n", id, ts.WorkerDistribution[id])
	}
	if len(ts.FailureReasons) > 0 {
		fmt.Fprintln(w, "Failures:")
		reasons := make([]string, 0, len(ts.FailureReasons))
		for r := range ts.FailureReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "  %d x %s\n", ts.FailureReasons[r], r)
		}
	}
}

func init() {
	summarizeCmd.Flags().StringVar(&summaryIn, "in", "", "Result file to read")
	summarizeCmd.Flags().StringVar(&summaryFrom, "from", "", "Input format (default: inferred from extension)")
	summarizeCmd.Flags().StringVar(&summaryTrace, "trace", "", "Also summarize a trace written by --trace-out")
	_ = summarizeCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(summarizeCmd)
}
