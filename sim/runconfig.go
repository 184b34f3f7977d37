package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/cachesim/cachesim/sim/collector"
	"github.com/cachesim/cachesim/sim/results"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Caching granularities understood by engines. The value is passed through
// untouched; only membership is checked here.
const (
	GranularityObject = "OBJECT"
	GranularityChunk  = "CHUNK"
)

// GranularityKey is the plain-config key the granularity is injected under.
const GranularityKey = "caching_granularity"

var validGranularities = map[string]bool{
	GranularityObject: true,
	GranularityChunk:  true,
}

// RunConfig holds the batch execution knobs.
// All keys must be listed to satisfy KnownFields(true) strict parsing.
type RunConfig struct {
	ParallelExecution  bool     `yaml:"PARALLEL_EXECUTION"`
	NProcesses         int      `yaml:"N_PROCESSES"`
	NReplications      int      `yaml:"N_REPLICATIONS"`
	CachingGranularity string   `yaml:"CACHING_GRANULARITY"`
	ResultsFormat      string   `yaml:"RESULTS_FORMAT"`
	DataCollectors     []string `yaml:"DATA_COLLECTORS"`
	LogLevel           string   `yaml:"LOG_LEVEL"`
	Seed               int64    `yaml:"SEED"`
}

// DefaultRunConfig returns the configuration used when no file is given.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		ParallelExecution:  false,
		NProcesses:         runtime.NumCPU(),
		NReplications:      1,
		CachingGranularity: GranularityObject,
		ResultsFormat:      results.DefaultFormat,
		LogLevel:           "info",
	}
}

// ParseRunConfig decodes YAML over the defaults. Unknown keys are errors.
// An empty document yields the defaults.
func ParseRunConfig(data []byte) (RunConfig, error) {
	cfg := DefaultRunConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return RunConfig{}, fmt.Errorf("parsing run config: %w", err)
	}
	return cfg, nil
}

// LoadRunConfig reads and parses a run configuration file.
func LoadRunConfig(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("reading run config: %w", err)
	}
	cfg, err := ParseRunConfig(data)
	if err != nil {
		return RunConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ConfigValidationError names the offending RunConfig field or experiment.
// It is batch-fatal: nothing is dispatched.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ConfigValidationError {
	return &ConfigValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every knob against the given registries and returns the
// resolved collector set and serializer.
func (c RunConfig) Validate(reg *collector.Registry, formats *results.Formats) (collector.Set, results.Serializer, error) {
	if c.NReplications < 1 {
		return collector.Set{}, nil, invalid("N_REPLICATIONS", "must be >= 1, got %d", c.NReplications)
	}
	if c.NProcesses < 1 {
		if c.ParallelExecution {
			return collector.Set{}, nil, invalid("N_PROCESSES", "must be >= 1 when PARALLEL_EXECUTION is true, got %d", c.NProcesses)
		}
		logrus.Warnf("N_PROCESSES=%d is not a positive integer; ignored because PARALLEL_EXECUTION is false", c.NProcesses)
	}
	if !validGranularities[c.CachingGranularity] {
		return collector.Set{}, nil, invalid("CACHING_GRANULARITY", "%q is not one of %s, %s", c.CachingGranularity, GranularityObject, GranularityChunk)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return collector.Set{}, nil, invalid("LOG_LEVEL", "%v", err)
	}
	serializer, err := formats.Lookup(c.ResultsFormat)
	if err != nil {
		return collector.Set{}, nil, invalid("RESULTS_FORMAT", "%v", err)
	}
	set, err := reg.Resolve(c.DataCollectors)
	if err != nil {
		return collector.Set{}, nil, invalid("DATA_COLLECTORS", "%v", err)
	}
	return set, serializer, nil
}

// Workers returns the number of concurrent workers the run will use.
func (c RunConfig) Workers() int {
	if !c.ParallelExecution {
		return 1
	}
	return c.NProcesses
}

func (c RunConfig) String() string {
	return fmt.Sprintf("parallel=%t processes=%d replications=%d granularity=%s format=%s collectors=[%s] seed=%d",
		c.ParallelExecution, c.NProcesses, c.NReplications, c.CachingGranularity, c.ResultsFormat,
		strings.Join(c.DataCollectors, ","), c.Seed)
}
