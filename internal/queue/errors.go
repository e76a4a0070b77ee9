package queue

import "errors"

// Error kinds (spec.md §7). Backends wrap these with errors.Is-compatible
// context via fmt.Errorf("...: %w", ErrX).
var (
	ErrStorageUnavailable = errors.New("queue: storage unavailable")
	ErrConflict           = errors.New("queue: task_id already exists")
	ErrNotFound           = errors.New("queue: not found")
	ErrInvalidTransition  = errors.New("queue: invalid status transition")
	ErrInvalidStatus      = errors.New("queue: invalid source status for operation")
)
