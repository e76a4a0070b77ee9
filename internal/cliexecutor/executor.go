// Package cliexecutor runs the configured language-model executor as a
// subprocess, satisfying tasksupervisor.Executor. The concrete executor
// binary is an external collaborator: this package only knows how to invoke
// it with a prompt on stdin and a deadline, and how to read its result back.
package cliexecutor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"runloop/internal/obslog"
	"runloop/internal/tasksupervisor"
)

// Executor invokes Command with Args, writing the composed prompt on stdin
// and reading combined stdout+stderr back as the raw output.
type Executor struct {
	Command string
	Args    []string
	log     obslog.Logger
}

func New(command string, args []string, log obslog.Logger) *Executor {
	return &Executor{Command: command, Args: args, log: obslog.OrNop(log)}
}

// Execute satisfies tasksupervisor.Executor. A non-zero exit is reported as
// ExecutorResponse{Success:false}, not a Go error, and so is a command that
// cannot be started (e.g. a missing binary); only an empty Command returns
// an error.
func (e *Executor) Execute(ctx context.Context, req tasksupervisor.ExecutorRequest) (tasksupervisor.ExecutorResponse, error) {
	if strings.TrimSpace(e.Command) == "" {
		return tasksupervisor.ExecutorResponse{}, fmt.Errorf("cliexecutor: no command configured")
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, e.Command, e.Args...)
	cmd.Stdin = strings.NewReader(req.Prompt)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		e.log.Warn("executor command failed", "command", e.Command, "error", err)
		return tasksupervisor.ExecutorResponse{
			Success:         false,
			Error:           err.Error(),
			Output:          out.String(),
			ExecutionTimeMs: elapsed,
		}, nil
	}

	return tasksupervisor.ExecutorResponse{
		Success:         true,
		Output:          out.String(),
		ExecutionTimeMs: elapsed,
	}, nil
}

// Preflight checks the configured command resolves to something
// executable. runnerd calls it before the Poller starts, so no task is
// claimed with an unusable executor.
func (e *Executor) Preflight() error {
	if strings.TrimSpace(e.Command) == "" {
		return fmt.Errorf("cliexecutor: no command configured")
	}
	if _, err := exec.LookPath(e.Command); err != nil {
		return fmt.Errorf("cliexecutor: command %q not found: %w", e.Command, err)
	}
	return nil
}
