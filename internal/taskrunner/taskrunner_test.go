package taskrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"runloop/internal/obslog"
	"runloop/internal/queue"
	"runloop/internal/tasksupervisor"
)

type stubExecutor struct {
	resp tasksupervisor.ExecutorResponse
	err  error
}

func (s stubExecutor) Execute(ctx context.Context, req tasksupervisor.ExecutorRequest) (tasksupervisor.ExecutorResponse, error) {
	return s.resp, s.err
}

func newRunner(t *testing.T, executor tasksupervisor.Executor) *Runner {
	t.Helper()
	root := t.TempDir()
	sup := tasksupervisor.New(executor, obslog.Noop{})
	return New(sup, root, obslog.Noop{})
}

func TestExecuteReturnsCompleteOnSuccess(t *testing.T) {
	r := newRunner(t, stubExecutor{resp: tasksupervisor.ExecutorResponse{Success: true, Output: "done"}})
	item := &queue.QueueItem{Namespace: "ns1", TaskID: "t1", Prompt: "do the thing"}

	got, err := r.Execute(context.Background(), item)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Status != queue.StatusComplete {
		t.Fatalf("Status = %v, want COMPLETE", got.Status)
	}
	if got.Output != "done" {
		t.Fatalf("Output = %q, want %q", got.Output, "done")
	}
}

func TestExecuteReturnsErrorOnExecutorFailure(t *testing.T) {
	r := newRunner(t, stubExecutor{resp: tasksupervisor.ExecutorResponse{Success: false, Error: "boom"}})
	item := &queue.QueueItem{Namespace: "ns1", TaskID: "t1", Prompt: "do the thing"}

	got, err := r.Execute(context.Background(), item)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Status != queue.StatusError {
		t.Fatalf("Status = %v, want ERROR", got.Status)
	}
}

func TestExecuteRoutesClarificationMarkerFromOutput(t *testing.T) {
	r := newRunner(t, stubExecutor{resp: tasksupervisor.ExecutorResponse{
		Success: true,
		Output:  "AWAITING_CLARIFICATION:which branch?",
	}})
	item := &queue.QueueItem{Namespace: "ns1", TaskID: "t1", Prompt: "do the thing"}

	got, err := r.Execute(context.Background(), item)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Status != queue.StatusError {
		t.Fatalf("Status = %v, want ERROR (clarification handoff)", got.Status)
	}
	if got.ErrorMessage != "AWAITING_CLARIFICATION:which branch?" {
		t.Fatalf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestExecuteUsesProjectConfigOverride(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, ".claude", "projects")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	projectCfg := `{"input_template": "PROJECT TEMPLATE"}`
	if err := os.WriteFile(filepath.Join(projDir, "ns1.json"), []byte(projectCfg), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	var seenPrompt string
	executor := stubExecutor{}
	sup := tasksupervisor.New(recordingExecutor{inner: executor, seen: &seenPrompt}, obslog.Noop{})
	r := New(sup, root, obslog.Noop{})

	item := &queue.QueueItem{Namespace: "ns1", TaskID: "t1", Prompt: "user says hi"}
	_, _ = r.Execute(context.Background(), item)

	if want := "PROJECT TEMPLATE\n\nuser says hi"; seenPrompt != want {
		t.Fatalf("composed prompt = %q, want %q", seenPrompt, want)
	}
}

type recordingExecutor struct {
	inner tasksupervisor.Executor
	seen  *string
}

func (r recordingExecutor) Execute(ctx context.Context, req tasksupervisor.ExecutorRequest) (tasksupervisor.ExecutorResponse, error) {
	*r.seen = req.Prompt
	return tasksupervisor.ExecutorResponse{Success: true, Output: "ok", ExecutionTimeMs: int64(time.Millisecond)}, nil
}
