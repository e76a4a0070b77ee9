package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the volatile, single-process backend: the shared engine's
// flat map keyed by "namespace:task_id", guarded by the engine's mutex,
// with persistence disabled. Suitable for tests and local
// single-runner development; state does not survive a process restart.
type MemoryStore struct {
	namespace string
	eng       *engine
}

// NewMemoryStore builds a MemoryStore scoped to namespace. now is injectable
// for deterministic tests; pass nil to use time.Now.
func NewMemoryStore(namespace string, now func() time.Time) *MemoryStore {
	return &MemoryStore{
		namespace: namespace,
		eng:       newEngine(now, func() string { return uuid.NewString() }, nil),
	}
}

func (m *MemoryStore) EnsureTable(ctx context.Context) error { return nil }

func (m *MemoryStore) Enqueue(ctx context.Context, sessionID, taskGroupID, prompt, taskID string, taskType TaskType) (*QueueItem, error) {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.enqueueLocked(m.namespace, sessionID, taskGroupID, prompt, taskID, taskType)
}

func (m *MemoryStore) GetItem(ctx context.Context, taskID, targetNamespace string) (*QueueItem, error) {
	ns := m.resolveNamespace(targetNamespace)
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.getItemLocked(ns, taskID), nil
}

func (m *MemoryStore) Claim(ctx context.Context) (ClaimResult, error) {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.claimLocked(m.namespace)
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, taskID string, status Status, errorMessage, output string) error {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.updateStatusLocked(m.namespace, taskID, status, errorMessage, output)
}

func (m *MemoryStore) UpdateStatusWithValidation(ctx context.Context, taskID string, newStatus Status) (StatusUpdateResult, error) {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.updateStatusWithValidationLocked(m.namespace, taskID, newStatus)
}

func (m *MemoryStore) SetAwaitingResponse(ctx context.Context, taskID string, clarification Clarification, conversationHistory []ConversationEntry, output string) error {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.setAwaitingResponseLocked(m.namespace, taskID, clarification, conversationHistory, output)
}

func (m *MemoryStore) ResumeWithResponse(ctx context.Context, taskID, userResponse string) (StatusUpdateResult, error) {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.resumeWithResponseLocked(m.namespace, taskID, userResponse)
}

func (m *MemoryStore) AppendEvent(ctx context.Context, taskID string, event Event) (bool, error) {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.appendEventLocked(m.namespace, taskID, event)
}

func (m *MemoryStore) GetByStatus(ctx context.Context, status Status) ([]*QueueItem, error) {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.getByStatusLocked(m.namespace, status), nil
}

func (m *MemoryStore) GetByTaskGroup(ctx context.Context, taskGroupID, targetNamespace string) ([]*QueueItem, error) {
	ns := m.resolveNamespace(targetNamespace)
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.getByTaskGroupLocked(ns, taskGroupID), nil
}

func (m *MemoryStore) GetAllItems(ctx context.Context, targetNamespace string) ([]*QueueItem, error) {
	ns := m.resolveNamespace(targetNamespace)
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.getAllItemsLocked(ns), nil
}

func (m *MemoryStore) GetAllTaskGroups(ctx context.Context, targetNamespace string) ([]TaskGroupSummary, error) {
	ns := m.resolveNamespace(targetNamespace)
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.getAllTaskGroupsLocked(ns), nil
}

func (m *MemoryStore) GetAllNamespaces(ctx context.Context) ([]NamespaceSummary, error) {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.getAllNamespacesLocked(DefaultHeartbeatTimeout), nil
}

func (m *MemoryStore) RecoverStaleTasks(ctx context.Context, maxAge int64) (int, error) {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.recoverStaleTasksLocked(m.namespace, time.Duration(maxAge)*time.Millisecond)
}

func (m *MemoryStore) UpdateRunnerHeartbeat(ctx context.Context, runnerID, projectRoot string) error {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.updateRunnerHeartbeatLocked(m.namespace, runnerID, projectRoot)
}

func (m *MemoryStore) GetRunner(ctx context.Context, runnerID string) (*RunnerRecord, error) {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.getRunnerLocked(m.namespace, runnerID), nil
}

func (m *MemoryStore) GetAllRunners(ctx context.Context) ([]*RunnerRecord, error) {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.getAllRunnersLocked(m.namespace), nil
}

func (m *MemoryStore) GetRunnersWithStatus(ctx context.Context, heartbeatTimeoutMs int64, targetNamespace string) ([]RunnerView, error) {
	ns := m.resolveNamespace(targetNamespace)
	timeout := time.Duration(heartbeatTimeoutMs) * time.Millisecond
	if heartbeatTimeoutMs <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.getRunnersWithStatusLocked(ns, timeout), nil
}

func (m *MemoryStore) MarkRunnerStopped(ctx context.Context, runnerID string) error {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.markRunnerStoppedLocked(m.namespace, runnerID)
}

func (m *MemoryStore) DeleteRunner(ctx context.Context, runnerID string) error {
	m.eng.mu.Lock()
	defer m.eng.mu.Unlock()
	return m.eng.deleteRunnerLocked(m.namespace, runnerID)
}

func (m *MemoryStore) resolveNamespace(targetNamespace string) string {
	if targetNamespace != "" {
		return targetNamespace
	}
	return m.namespace
}

var _ Store = (*MemoryStore)(nil)
