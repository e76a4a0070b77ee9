// Package restarthandler scans non-terminal tasks at startup and applies
// TaskSupervisor's restart-state decision to each.
package restarthandler

import (
	"context"
	"fmt"
	"time"

	"runloop/internal/obslog"
	"runloop/internal/queue"
	"runloop/internal/tasksupervisor"
)

// ArtifactChecker reports whether item has complete, resumable artifacts.
// Left pluggable since what counts as a "complete artifact" is executor-
// and domain-specific; a supervisor with no notion of partial artifacts can
// pass a func that always returns false (every stale RUNNING task rolls
// back and replays).
type ArtifactChecker func(item *queue.QueueItem) bool

// Handler scans QueueStore for RUNNING and AWAITING_RESPONSE tasks at
// startup and transitions stale ones per detect_restart_state.
type Handler struct {
	store          queue.Store
	hasArtifacts   ArtifactChecker
	staleThreshold time.Duration
	log            obslog.Logger
}

func New(store queue.Store, hasArtifacts ArtifactChecker, staleThreshold time.Duration, log obslog.Logger) *Handler {
	if hasArtifacts == nil {
		hasArtifacts = func(*queue.QueueItem) bool { return false }
	}
	if staleThreshold <= 0 {
		staleThreshold = tasksupervisor.DefaultStaleThreshold
	}
	return &Handler{
		store:          store,
		hasArtifacts:   hasArtifacts,
		staleThreshold: staleThreshold,
		log:            obslog.OrNop(log),
	}
}

// Result summarizes what the startup scan decided for each task.
type Result struct {
	Continued       []string
	Resumed         []string
	RolledBack      []string
}

// Run scans all RUNNING and AWAITING_RESPONSE tasks and applies the
// restart-state decision to each. continue and resume require no state
// change — the poller will pick them back up; rollback_replay transitions
// the task to ERROR, leaving re-enqueue to the operator or a higher layer.
func (h *Handler) Run(ctx context.Context, now time.Time) (Result, error) {
	var result Result

	for _, status := range []queue.Status{queue.StatusRunning, queue.StatusAwaitingResponse} {
		items, err := h.store.GetByStatus(ctx, status)
		if err != nil {
			return result, fmt.Errorf("restarthandler: list %s tasks: %w", status, err)
		}

		for _, item := range items {
			decision := tasksupervisor.DetectRestartState(item, now, h.hasArtifacts(item), h.staleThreshold)

			switch decision.Action {
			case tasksupervisor.RestartActionContinue:
				result.Continued = append(result.Continued, item.TaskID)
			case tasksupervisor.RestartActionResume:
				result.Resumed = append(result.Resumed, item.TaskID)
			case tasksupervisor.RestartActionRollbackReplay:
				msg := fmt.Sprintf("Stale task detected: %s. Needs re-queue.", decision.Reason)
				if err := h.store.UpdateStatus(ctx, item.TaskID, queue.StatusError, msg, ""); err != nil {
					h.log.Error("failed to roll back stale task", "task_id", item.TaskID, "error", err)
					continue
				}
				result.RolledBack = append(result.RolledBack, item.TaskID)
				h.log.Info("rolled back stale task", "task_id", item.TaskID, "reason", decision.Reason)
			}
		}
	}

	return result, nil
}
