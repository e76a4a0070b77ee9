package queue

import "context"

// Store is the contract every backend (memory, file, postgres) implements.
// All operations are scoped to the namespace the Store was configured with
// unless a read operation's targetNamespace is explicitly non-empty (I7).
type Store interface {
	// EnsureTable creates backing storage if absent. Idempotent.
	EnsureTable(ctx context.Context) error

	// Enqueue creates an item in QUEUED. If taskID is non-empty and already
	// exists, returns ErrConflict. If taskID is empty, a fresh unique id is
	// generated.
	Enqueue(ctx context.Context, sessionID, taskGroupID, prompt, taskID string, taskType TaskType) (*QueueItem, error)

	// GetItem is a point lookup. targetNamespace overrides the store's
	// configured namespace when non-empty. Returns (nil, nil) on miss.
	GetItem(ctx context.Context, taskID, targetNamespace string) (*QueueItem, error)

	// Claim atomically transitions the oldest QUEUED item to RUNNING.
	Claim(ctx context.Context) (ClaimResult, error)

	// UpdateStatus is an unchecked write used by the poller on completion.
	UpdateStatus(ctx context.Context, taskID string, status Status, errorMessage, output string) error

	// UpdateStatusWithValidation rejects illegal transitions.
	UpdateStatusWithValidation(ctx context.Context, taskID string, newStatus Status) (StatusUpdateResult, error)

	// SetAwaitingResponse transitions RUNNING -> AWAITING_RESPONSE.
	SetAwaitingResponse(ctx context.Context, taskID string, clarification Clarification, conversationHistory []ConversationEntry, output string) error

	// ResumeWithResponse transitions AWAITING_RESPONSE -> QUEUED, appending a
	// user conversation entry.
	ResumeWithResponse(ctx context.Context, taskID, userResponse string) (StatusUpdateResult, error)

	// AppendEvent appends to events (capped at MaxEvents, oldest dropped).
	// Returns whether the task existed.
	AppendEvent(ctx context.Context, taskID string, event Event) (bool, error)

	GetByStatus(ctx context.Context, status Status) ([]*QueueItem, error)
	GetByTaskGroup(ctx context.Context, taskGroupID, targetNamespace string) ([]*QueueItem, error)
	GetAllItems(ctx context.Context, targetNamespace string) ([]*QueueItem, error)
	GetAllTaskGroups(ctx context.Context, targetNamespace string) ([]TaskGroupSummary, error)
	GetAllNamespaces(ctx context.Context) ([]NamespaceSummary, error)

	// RecoverStaleTasks transitions every RUNNING task older than maxAge to
	// ERROR. Returns the count recovered.
	RecoverStaleTasks(ctx context.Context, maxAge int64) (int, error)

	UpdateRunnerHeartbeat(ctx context.Context, runnerID, projectRoot string) error
	GetRunner(ctx context.Context, runnerID string) (*RunnerRecord, error)
	GetAllRunners(ctx context.Context) ([]*RunnerRecord, error)
	GetRunnersWithStatus(ctx context.Context, heartbeatTimeoutMs int64, targetNamespace string) ([]RunnerView, error)
	MarkRunnerStopped(ctx context.Context, runnerID string) error
	DeleteRunner(ctx context.Context, runnerID string) error
}
