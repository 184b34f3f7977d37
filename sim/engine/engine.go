// Package engine defines the contract between the orchestration layer and
// the simulation engine that actually runs one replica, plus adapters that
// reach an engine in-process, as a subprocess, or over gRPC.
//
// The orchestrator treats every engine as opaque: it hands over the
// experiment's plain configuration, the resolved collector set and the
// replica seed, and gets back a metrics mapping or an error.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/cachesim/cachesim/sim/collector"
	"github.com/sirupsen/logrus"
)

// Engine runs one replica of one experiment.
//
// Implementations must be safe for concurrent use: the dispatcher may run
// replicas of different experiments at the same time.
type Engine interface {
	Run(ctx context.Context, config map[string]any, collectors collector.Set, seed int64) (map[string]any, error)
}

// ErrEngine matches every *EngineError with errors.Is.
var ErrEngine = errors.New("engine failure")

// EngineError reports a replica the engine could not complete.
type EngineError struct {
	Engine string // adapter name
	Err    error
	Stderr string // subprocess engines only; trimmed tail
	Panic  bool
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s engine: %v", e.Engine, e.Err)
	if e.Panic {
		msg = fmt.Sprintf("%s engine panicked: %v", e.Engine, e.Err)
	}
	if e.Stderr != "" {
		msg += " (stderr: " + e.Stderr + ")"
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool { return target == ErrEngine }

// Func adapts an ordinary function to Engine.
type Func func(ctx context.Context, config map[string]any, collectors collector.Set, seed int64) (map[string]any, error)

// Run calls f.
func (f Func) Run(ctx context.Context, config map[string]any, collectors collector.Set, seed int64) (map[string]any, error) {
	return f(ctx, config, collectors, seed)
}

// Invoke runs one replica on e and converts every failure, including a
// panic inside the engine, into an *EngineError.
func Invoke(ctx context.Context, e Engine, config map[string]any, collectors collector.Set, seed int64) (metrics map[string]any, err error) {
	name := Name(e)
	defer func() {
		if r := recover(); r != nil {
			metrics = nil
			logrus.Debugf("%s engine panic: %v\n%s", name, r, debug.Stack())
			err = &EngineError{Engine: name, Err: fmt.Errorf("%v", r), Panic: true}
		}
	}()
	metrics, err = e.Run(ctx, config, collectors, seed)
	if err != nil {
		var ee *EngineError
		if !errors.As(err, &ee) {
			err = &EngineError{Engine: name, Err: err}
		}
		return nil, err
	}
	if metrics == nil {
		return nil, &EngineError{Engine: name, Err: errors.New("no metrics returned")}
	}
	return metrics, nil
}

// Name returns a short adapter name for logs and errors.
func Name(e Engine) string {
	switch e.(type) {
	case Func:
		return "func"
	case *Exec:
		return "exec"
	case *Remote:
		return "remote"
	}
	return fmt.Sprintf("%T", e)
}
