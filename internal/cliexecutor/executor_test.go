package cliexecutor

import (
	"context"
	"strings"
	"testing"

	"runloop/internal/obslog"
	"runloop/internal/tasksupervisor"
)

func TestExecuteCapturesStdoutOnSuccess(t *testing.T) {
	e := New("cat", nil, obslog.Noop{})

	resp, err := e.Execute(context.Background(), tasksupervisor.ExecutorRequest{Prompt: "hello world", TimeoutMs: 5000})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if strings.TrimSpace(resp.Output) != "hello world" {
		t.Fatalf("Output = %q, want %q", resp.Output, "hello world")
	}
}

func TestExecuteReportsNonZeroExitAsFailureNotError(t *testing.T) {
	e := New("false", nil, obslog.Noop{})

	resp, err := e.Execute(context.Background(), tasksupervisor.ExecutorRequest{Prompt: "x", TimeoutMs: 5000})
	if err != nil {
		t.Fatalf("Execute returned a Go error for a nonzero exit: %v", err)
	}
	if resp.Success {
		t.Fatalf("expected Success=false for a nonzero exit")
	}
	if resp.Error == "" {
		t.Fatalf("expected a non-empty Error")
	}
}

func TestPreflightFailsOnMissingCommand(t *testing.T) {
	e := New("definitely-not-a-real-binary-xyz", nil, obslog.Noop{})
	if err := e.Preflight(); err == nil {
		t.Fatalf("expected preflight to fail for a nonexistent binary")
	}
}

func TestPreflightFailsOnEmptyCommand(t *testing.T) {
	e := New("", nil, obslog.Noop{})
	if err := e.Preflight(); err == nil {
		t.Fatalf("expected preflight to fail for an empty command")
	}
}

func TestExecuteRequiresConfiguredCommand(t *testing.T) {
	e := New("", nil, obslog.Noop{})
	if _, err := e.Execute(context.Background(), tasksupervisor.ExecutorRequest{Prompt: "x"}); err == nil {
		t.Fatalf("expected an error when no command is configured")
	}
}
