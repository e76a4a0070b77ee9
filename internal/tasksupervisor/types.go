// Package tasksupervisor mediates every executor invocation through an
// immutable prompt-composition and output-validation contract: direct
// executor invocation bypassing this package is a contract violation.
package tasksupervisor

import "context"

// ComposedPrompt is the result of compose(): the three parts joined in
// their fixed order.
type ComposedPrompt struct {
	Text  string
	Parts []string
}

// Severity classifies a validation violation.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// Violation is one validation failure.
type Violation struct {
	Type          string
	Message       string
	CanAutoCorrect bool
	Severity      Severity
}

// ValidationResult is the outcome of validating formatted output.
type ValidationResult struct {
	Valid      bool
	Violations []Violation
}

// ExecutorRequest is what Execute passes to the underlying Executor.
type ExecutorRequest struct {
	Prompt     string
	TimeoutMs  int
	MaxRetries int
}

// ExecutorResponse is the underlying executor's raw reply.
type ExecutorResponse struct {
	Success         bool
	Output          string
	Error           string
	ExecutionTimeMs int64
}

// Executor is the inbound dependency TaskSupervisor drives. Distinct from
// poller.TaskExecutor: this is the raw prompt-in/output-out contract, one
// layer below the poller-facing QueueItem contract.
type Executor interface {
	Execute(ctx context.Context, req ExecutorRequest) (ExecutorResponse, error)
}

// ExecuteResult is the outcome of Execute.
type ExecuteResult struct {
	Success    bool
	Output     string
	Violations []Violation
	Attempts   int
	Error      string
}

// ErrSupervisorDisabled is the fatal "no bypass" error raised when
// supervisor_enabled is false.
type ErrSupervisorDisabled struct{}

func (ErrSupervisorDisabled) Error() string {
	return "tasksupervisor: supervisor_enabled is false; direct executor invocation is a contract violation"
}

// RestartAction is the decision detect_restart_state returns.
type RestartAction string

const (
	RestartActionNone          RestartAction = "none"
	RestartActionContinue      RestartAction = "continue"
	RestartActionResume        RestartAction = "resume"
	RestartActionRollbackReplay RestartAction = "rollback_replay"
)

// RestartDecision is the outcome of detect_restart_state.
type RestartDecision struct {
	Action RestartAction
	Reason string
}
