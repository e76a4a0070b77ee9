package tasksupervisor

import (
	"context"
	"fmt"

	"runloop/internal/config"
	"runloop/internal/obslog"
)

// Supervisor mediates every execution through compose -> executor.Execute
// -> format -> validate, enforcing the no-bypass and fail-on-violation
// contracts. The attempt loop is grounded on the teacher's
// toolregistry.retryExecutor (bounded attempts, last-error preserved on
// exhaustion) simplified to the spec's fixed "max_retries+1 attempts, no
// backoff delay" shape — this package retries a whole-prompt execution,
// not a transient infra call, so exponential backoff has no role here.
type Supervisor struct {
	executor Executor
	log      obslog.Logger
}

func New(executor Executor, log obslog.Logger) *Supervisor {
	return &Supervisor{executor: executor, log: obslog.OrNop(log)}
}

// Execute runs composed through the executor up to cfg.MaxRetries+1 times,
// then formats and validates the first successful output.
func (s *Supervisor) Execute(ctx context.Context, composed ComposedPrompt, cfg config.MergedConfig, taskID string) (ExecuteResult, error) {
	if !cfg.SupervisorEnabled {
		return ExecuteResult{}, ErrSupervisorDisabled{}
	}
	if s.executor == nil {
		return ExecuteResult{}, fmt.Errorf("tasksupervisor: no executor installed")
	}

	log := s.log.With("task_id", taskID)
	maxAttempts := cfg.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		log.Info("execution attempt starting", "attempt", attempt, "max_attempts", maxAttempts)

		resp, err := s.executor.Execute(ctx, ExecutorRequest{
			Prompt:    composed.Text,
			TimeoutMs: cfg.TimeoutMs,
		})
		if err != nil {
			lastErr = err
			log.Warn("execution attempt failed", "attempt", attempt, "error", err)
			continue
		}
		if !resp.Success {
			lastErr = fmt.Errorf("executor reported failure: %s", resp.Error)
			log.Warn("execution attempt reported failure", "attempt", attempt, "error", resp.Error)
			continue
		}

		template := cfg.ProjectOutputTemplate
		if template == "" {
			template = cfg.GlobalOutputTemplate
		}
		formatted, warnings := Format(resp.Output, template, nil, cfg.AllowRawOutput)
		for _, w := range warnings {
			log.Warn("template validation warning", "warning", w)
		}

		validation := Validate(formatted)
		log.Info("validation decision", "valid", validation.Valid, "violation_count", len(validation.Violations))

		if validation.HasMajorViolation() && cfg.FailOnViolation {
			return ExecuteResult{
				Success:    false,
				Output:     formatted,
				Violations: validation.Violations,
				Attempts:   attempt,
			}, nil
		}

		log.Info("execution succeeded", "attempt", attempt)
		return ExecuteResult{
			Success:    true,
			Output:     formatted,
			Violations: validation.Violations,
			Attempts:   attempt,
		}, nil
	}

	errMsg := "execution exhausted all attempts"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	log.Error("execution exhausted retries", "attempts", maxAttempts, "error", errMsg)
	return ExecuteResult{
		Success:  false,
		Attempts: maxAttempts,
		Error:    errMsg,
		Violations: []Violation{{
			Type:     "execution_exhausted",
			Message:  errMsg,
			Severity: SeverityMajor,
		}},
	}, nil
}
