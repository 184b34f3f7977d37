package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cachesim/cachesim/sim/collector"
	"github.com/cachesim/cachesim/sim/internal/value"
	"github.com/sirupsen/logrus"
)

// maxStderr bounds the stderr tail kept in an EngineError.
const maxStderr = 2048

// Request is the JSON document an Exec engine reads from stdin.
type Request struct {
	Config     map[string]any `json:"config"`
	Collectors []string       `json:"collectors"`
	Seed       int64          `json:"seed"`
}

// Response is the JSON document an Exec engine writes to stdout.
// Exactly one of Metrics and Error is expected.
type Response struct {
	Metrics map[string]any `json:"metrics,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Exec runs an external command once per replica. Each replica gets its own
// OS process, so a crashing engine cannot take down the orchestrator.
type Exec struct {
	Path string
	Args []string
	Env  []string // nil inherits the parent environment
	Dir  string
}

// NewExec builds an Exec from a command line such as ["python3", "engine.py"].
func NewExec(command []string) (*Exec, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("engine command is empty")
	}
	path, err := exec.LookPath(command[0])
	if err != nil {
		return nil, fmt.Errorf("engine command %q: %w", command[0], err)
	}
	return &Exec{Path: path, Args: append([]string(nil), command[1:]...)}, nil
}

// Run implements Engine.
func (e *Exec) Run(ctx context.Context, config map[string]any, collectors collector.Set, seed int64) (map[string]any, error) {
	req, err := json.Marshal(Request{Config: config, Collectors: collectors.Names(), Seed: seed})
	if err != nil {
		return nil, &EngineError{Engine: "exec", Err: fmt.Errorf("encoding request: %w", err)}
	}

	cmd := exec.CommandContext(ctx, e.Path, e.Args...)
	cmd.Stdin = bytes.NewReader(req)
	cmd.Env = e.Env
	cmd.Dir = e.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logrus.Debugf("exec engine: %s %s (seed %d)", e.Path, strings.Join(e.Args, " "), seed)
	if err := cmd.Run(); err != nil {
		return nil, &EngineError{Engine: "exec", Err: err, Stderr: tail(stderr.String())}
	}
	return decodeResponse(stdout.Bytes(), stderr.String())
}

func decodeResponse(out []byte, stderr string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(out))
	dec.UseNumber()
	var resp Response
	if err := dec.Decode(&resp); err != nil {
		return nil, &EngineError{Engine: "exec", Err: fmt.Errorf("decoding response: %w", err), Stderr: tail(stderr)}
	}
	if resp.Error != "" {
		return nil, &EngineError{Engine: "exec", Err: errors.New(resp.Error), Stderr: tail(stderr)}
	}
	if resp.Metrics == nil {
		return nil, &EngineError{Engine: "exec", Err: errors.New("response has neither metrics nor error")}
	}
	m, err := value.FromJSON(resp.Metrics)
	if err != nil {
		return nil, &EngineError{Engine: "exec", Err: fmt.Errorf("decoding metrics: %w", err)}
	}
	return m.(map[string]any), nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return "..." + s[len(s)-maxStderr:]
	}
	return s
}
