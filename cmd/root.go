package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachesim/cachesim/sim"
	"github.com/cachesim/cachesim/sim/engine"
	"github.com/cachesim/cachesim/sim/experiment"
	"github.com/cachesim/cachesim/sim/results"
	"github.com/cachesim/cachesim/sim/trace"
)

var (
	// Input and output locations
	runConfigPath string // YAML run configuration; defaults apply when empty
	resultsPath   string // Where the result set is written
	traceOutPath  string // Where the replica lifecycle trace is written
	traceLevel    string // Trace verbosity: none, replicas

	// Engine selection (exactly one)
	engineCmd  string // Subprocess engine command line
	engineAddr string // gRPC engine address

	// Run configuration overrides, applied only when the flag is set
	parallel     bool     // PARALLEL_EXECUTION
	processes    int      // N_PROCESSES
	replications int      // N_REPLICATIONS
	granularity  string   // CACHING_GRANULARITY
	format       string   // RESULTS_FORMAT
	collectors   []string // DATA_COLLECTORS
	seed         int64    // SEED
	logLevel     string   // LOG_LEVEL
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "cachesim",
	Short: "Batch orchestrator for network caching experiments",
}

// runCmd loads descriptors, runs every experiment and persists the results
var runCmd = &cobra.Command{
	Use:   "run [descriptor files...]",
	Short: "Run every experiment in the descriptor files",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveRunConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		setupLogging(cfg.LogLevel)
		bt, err := newBatchTrace(traceLevel, traceOutPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		eng, closeEngine, err := newEngine(engineCmd, engineAddr)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		defer closeEngine()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		path, err := runBatch(ctx, args, cfg, eng, resultsPath, bt, traceOutPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Results written to %s", path)
	},
}

// setupLogging applies a logrus level, failing on an unknown name.
func setupLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", level)
	}
	logrus.SetLevel(lvl)
}

// newEngine builds the engine selected by the flags. The returned func
// releases its resources.
func newEngine(command, addr string) (engine.Engine, func(), error) {
	switch {
	case command != "" && addr != "":
		return nil, nil, errors.New("--engine-cmd and --engine-addr are mutually exclusive")
	case command != "":
		e, err := engine.NewExec(strings.Fields(command))
		if err != nil {
			return nil, nil, err
		}
		return e, func() {}, nil
	case addr != "":
		r, err := engine.Dial(addr)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	default:
		return nil, nil, errors.New("no engine: set --engine-cmd or --engine-addr")
	}
}

// loadQueue appends every experiment of every descriptor file, in order.
func loadQueue(paths []string) (*experiment.Queue, error) {
	q := experiment.NewQueue()
	n, err := experiment.LoadFiles(q, paths)
	if err != nil {
		return nil, err
	}
	logrus.Infof("Loaded %d experiment(s) from %d file(s)", n, len(paths))
	return q, nil
}

// newBatchTrace validates level and returns the trace to record into, or
// nil when nothing should be written.
func newBatchTrace(level, out string) (*trace.BatchTrace, error) {
	if !trace.IsValidTraceLevel(level) {
		return nil, fmt.Errorf("invalid trace level %q (want %s or %s)", level, trace.TraceLevelNone, trace.TraceLevelReplicas)
	}
	if out == "" {
		return nil, nil
	}
	if trace.TraceLevel(level) != trace.TraceLevelReplicas {
		logrus.Warnf("--trace-out %s ignored: trace level is %q", out, level)
		return nil, nil
	}
	return trace.NewBatchTrace(trace.TraceConfig{Level: trace.TraceLevelReplicas}), nil
}

// runBatch runs the descriptors and persists the result set, returning the
// path actually written. A non-nil bt is written to traceOut afterwards.
func runBatch(ctx context.Context, paths []string, cfg sim.RunConfig, eng engine.Engine, out string, bt *trace.BatchTrace, traceOut string) (string, error) {
	q, err := loadQueue(paths)
	if err != nil {
		return "", err
	}
	formats := results.DefaultFormats()
	rs, err := sim.Run(ctx, q, cfg, sim.RunOptions{Engine: eng, Formats: formats, Trace: bt})
	if err != nil {
		return "", err
	}
	if bt != nil {
		if err := bt.WriteFile(traceOut); err != nil {
			logrus.Warnf("Could not write trace: %v", err)
		}
	}

	serializer, err := formats.Lookup(cfg.ResultsFormat)
	if err != nil {
		return "", err
	}
	if out == "" {
		out = "results" + serializer.Extension()
	}
	return persistWithFallback(rs, out, serializer)
}

// persistWithFallback writes rs with s. On a serialization failure the
// in-memory results are retried once as JSON next to the requested path.
func persistWithFallback(rs *results.ResultSet, path string, s results.Serializer) (string, error) {
	err := results.Persist(rs, path, s)
	if err == nil {
		return path, nil
	}
	var se *results.SerializationError
	if !errors.As(err, &se) {
		return "", err
	}
	fallback := path + ".json"
	if dir := filepath.Dir(path); !isDir(dir) {
		fallback = filepath.Base(path) + ".json"
	}
	logrus.Warnf("%v; retrying as JSON to %s", err, fallback)
	if err2 := results.Persist(rs, fallback, results.JSONSerializer{}); err2 != nil {
		return "", fmt.Errorf("%w (fallback also failed: %v)", err, err2)
	}
	return fallback, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Run configuration YAML (PARALLEL_EXECUTION, N_REPLICATIONS, ...)")
	runCmd.Flags().StringVar(&resultsPath, "results", "", "Result file path (default results.<format extension>)")
	runCmd.Flags().StringVar(&traceOutPath, "trace-out", "", "Write the replica lifecycle trace to this YAML file")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", string(trace.TraceLevelReplicas), "Trace verbosity with --trace-out (none, replicas)")

	runCmd.Flags().StringVar(&engineCmd, "engine-cmd", "", "Subprocess engine command line, run once per replica")
	runCmd.Flags().StringVar(&engineAddr, "engine-addr", "", "gRPC engine address (host:port)")

	addOverrideFlags(runCmd)

	rootCmd.AddCommand(runCmd)
}

// addOverrideFlags registers the run configuration override flags on c.
func addOverrideFlags(c *cobra.Command) {
	c.Flags().BoolVar(&parallel, "parallel", false, "Override PARALLEL_EXECUTION")
	c.Flags().IntVar(&processes, "processes", 0, "Override N_PROCESSES")
	c.Flags().IntVar(&replications, "replications", 1, "Override N_REPLICATIONS")
	c.Flags().StringVar(&granularity, "granularity", sim.GranularityObject, "Override CACHING_GRANULARITY (OBJECT, CHUNK)")
	c.Flags().StringVar(&format, "format", results.DefaultFormat, "Override RESULTS_FORMAT (MSGPACK, JSON, YAML, PROTO, CSV)")
	c.Flags().StringSliceVar(&collectors, "collectors", nil, "Override DATA_COLLECTORS (comma-separated)")
	c.Flags().Int64Var(&seed, "seed", 0, "Override SEED")
	c.Flags().StringVar(&logLevel, "log", "info", "Override LOG_LEVEL (trace, debug, info, warn, error, fatal, panic)")
}
