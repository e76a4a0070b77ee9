package tasksupervisor

import (
	"time"

	"runloop/internal/queue"
)

// DefaultStaleThreshold is detect_restart_state's default staleness window.
const DefaultStaleThreshold = 30 * time.Second

// DetectRestartState is a pure decision function used during recovery: it
// never mutates the task, only classifies what should happen to it.
func DetectRestartState(item *queue.QueueItem, now time.Time, hasCompleteArtifacts bool, staleThreshold time.Duration) RestartDecision {
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}

	switch item.Status {
	case queue.StatusAwaitingResponse:
		return RestartDecision{Action: RestartActionContinue, Reason: "awaiting response"}
	case queue.StatusRunning:
		if now.Sub(item.UpdatedAt) > staleThreshold {
			if hasCompleteArtifacts {
				return RestartDecision{Action: RestartActionResume, Reason: "stale running task has complete artifacts"}
			}
			return RestartDecision{Action: RestartActionRollbackReplay, Reason: "stale running task with no complete artifacts"}
		}
	}
	return RestartDecision{Action: RestartActionNone}
}
