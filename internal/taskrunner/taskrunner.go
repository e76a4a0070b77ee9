// Package taskrunner bridges poller.TaskExecutor to tasksupervisor.Supervisor:
// every claimed QueueItem is composed, executed through the supervisor's
// retry/validation loop, and mapped back to a poller.ExecutionResult. This is
// the only concrete TaskExecutor this module ships; it is itself a thin
// adapter, not a replacement for the out-of-scope concrete executor.
package taskrunner

import (
	"context"
	"strings"

	"runloop/internal/config"
	"runloop/internal/obslog"
	"runloop/internal/poller"
	"runloop/internal/queue"
	"runloop/internal/tasksupervisor"
)

// Runner adapts a tasksupervisor.Supervisor into a poller.TaskExecutor,
// loading the two-layer config fresh for every task (project_id is taken to
// be the task's namespace, the closest existing identity in the data model).
type Runner struct {
	supervisor  *tasksupervisor.Supervisor
	projectRoot string
	log         obslog.Logger
}

func New(supervisor *tasksupervisor.Supervisor, projectRoot string, log obslog.Logger) *Runner {
	return &Runner{supervisor: supervisor, projectRoot: projectRoot, log: obslog.OrNop(log)}
}

var _ poller.TaskExecutor = (*Runner)(nil)

// Execute satisfies poller.TaskExecutor: compose the prompt from the merged
// config, run it through the supervisor's execute loop, and translate the
// result (or a supervisor-disabled/config error) into the task-facing
// {status, error_message, output} contract.
func (r *Runner) Execute(ctx context.Context, item *queue.QueueItem) (poller.ExecutionResult, error) {
	projectID := item.Namespace

	cfg, err := config.Load(r.projectRoot, projectID)
	if err != nil {
		return poller.ExecutionResult{}, err
	}

	composed := tasksupervisor.Compose(cfg.GlobalInputTemplate, cfg.ProjectInputTemplate, item.Prompt)

	result, err := r.supervisor.Execute(ctx, composed, cfg, item.TaskID)
	if err != nil {
		if _, disabled := err.(tasksupervisor.ErrSupervisorDisabled); disabled {
			return poller.ExecutionResult{}, err
		}
		return poller.ExecutionResult{}, err
	}

	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "task execution failed"
		}
		return poller.ExecutionResult{Status: queue.StatusError, ErrorMessage: msg}, nil
	}

	if stripped, ok := clarificationMessage(result.Output); ok {
		return poller.ExecutionResult{Status: queue.StatusError, ErrorMessage: "AWAITING_CLARIFICATION:" + stripped}, nil
	}

	return poller.ExecutionResult{Status: queue.StatusComplete, Output: result.Output}, nil
}

// clarificationMessage recognizes an executor output that itself asked to
// pause-and-ask by embedding the same prefix convention in its first line,
// so an executor can request clarification without throwing.
func clarificationMessage(output string) (string, bool) {
	const marker = "AWAITING_CLARIFICATION:"
	firstLine := output
	if idx := strings.IndexByte(output, '\n'); idx >= 0 {
		firstLine = output[:idx]
	}
	if strings.HasPrefix(firstLine, marker) {
		return strings.TrimPrefix(firstLine, marker), true
	}
	return "", false
}
