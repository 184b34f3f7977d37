package trace

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TraceLevel controls the verbosity of lifecycle tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelReplicas captures every replica state transition.
	TraceLevelReplicas TraceLevel = "replicas"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:     true,
	TraceLevelReplicas: true,
	"":                 true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel `yaml:"level"`
}

// Enabled reports whether transitions should be recorded.
func (c TraceConfig) Enabled() bool { return c.Level == TraceLevelReplicas }

// BatchTrace collects transitions during one batch run.
//
// Not thread-safe: it is owned by the dispatcher's ingestion goroutine.
type BatchTrace struct {
	Config      TraceConfig  `yaml:"config"`
	Transitions []Transition `yaml:"transitions"`
}

// NewBatchTrace creates a BatchTrace ready for recording.
func NewBatchTrace(config TraceConfig) *BatchTrace {
	return &BatchTrace{
		Config:      config,
		Transitions: make([]Transition, 0),
	}
}

// Record appends a transition, assigning its sequence number.
// Illegal transitions are rejected so a broken state machine shows up in
// tests rather than in a corrupt trace.
func (bt *BatchTrace) Record(t Transition) error {
	if !CanTransition(t.From, t.To) {
		return fmt.Errorf("illegal replica transition %s", t)
	}
	if !bt.Config.Enabled() {
		return nil
	}
	t.Seq = len(bt.Transitions)
	bt.Transitions = append(bt.Transitions, t)
	return nil
}

// WriteFile writes the trace as YAML.
func (bt *BatchTrace) WriteFile(path string) error {
	data, err := yaml.Marshal(bt)
	if err != nil {
		return fmt.Errorf("marshaling trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing trace: %w", err)
	}
	return nil
}

// ReadFile loads a trace written by WriteFile.
func ReadFile(path string) (*BatchTrace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	var bt BatchTrace
	if err := yaml.Unmarshal(data, &bt); err != nil {
		return nil, fmt.Errorf("parsing trace: %w", err)
	}
	return &bt, nil
}
