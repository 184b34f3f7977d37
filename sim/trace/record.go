// Package trace records replica lifecycle transitions for post-run analysis.
// This package has no dependencies on the dispatcher; it stores pure data types.
package trace

import "fmt"

// State is a replica lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateSkipped
}

// allowed lists legal next states. Queued replicas skip straight to a
// terminal state only when they are never started.
var allowed = map[State][]State{
	StateQueued:  {StateRunning, StateSkipped},
	StateRunning: {StateCompleted, StateFailed},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition captures one replica state change.
type Transition struct {
	Seq          int    `yaml:"seq"`
	ExperimentID string `yaml:"experiment_id"`
	Position     int    `yaml:"position"`
	Replica      int    `yaml:"replica"`
	Worker       int    `yaml:"worker"` // -1 when no worker picked the experiment up
	From         State  `yaml:"from"`
	To           State  `yaml:"to"`
	Reason       string `yaml:"reason,omitempty"`
	ElapsedMs    int64  `yaml:"elapsed_ms,omitempty"` // set on terminal transitions out of running
}

func (t Transition) String() string {
	return fmt.Sprintf("%s/%d %s→%s", t.ExperimentID, t.Replica, t.From, t.To)
}
