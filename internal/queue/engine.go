package queue

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// engine holds the shared in-process map logic used by both MemoryStore and
// FileStore — both are single-writer, in-memory-indexed backends; the only
// difference is whether mutations are persisted to disk. persist is invoked
// (holding mu) after every successful mutation; it is a no-op for the
// volatile memory backend.
type engine struct {
	mu      sync.Mutex
	tasks   map[string]*QueueItem   // "namespace:task_id" -> item
	runners map[string]*RunnerRecord // "namespace:runner_id" -> record
	now     func() time.Time
	newID   func() string
	persist func() error
}

func newEngine(now func() time.Time, newID func() string, persist func() error) *engine {
	if now == nil {
		now = time.Now
	}
	if persist == nil {
		persist = func() error { return nil }
	}
	return &engine{
		tasks:   make(map[string]*QueueItem),
		runners: make(map[string]*RunnerRecord),
		now:     now,
		newID:   newID,
		persist: persist,
	}
}

func taskKey(namespace, taskID string) string {
	return namespace + ":" + taskID
}

func runnerKey(namespace, runnerID string) string {
	return namespace + ":" + runnerID
}

func (e *engine) enqueueLocked(namespace, sessionID, taskGroupID, prompt, taskID string, taskType TaskType) (*QueueItem, error) {
	if taskID == "" {
		taskID = e.newID()
	}
	key := taskKey(namespace, taskID)
	if _, exists := e.tasks[key]; exists {
		return nil, fmt.Errorf("enqueue %s: %w", taskID, ErrConflict)
	}
	now := e.now().UTC()
	item := &QueueItem{
		Namespace:   namespace,
		TaskID:      taskID,
		TaskGroupID: taskGroupID,
		SessionID:   sessionID,
		Status:      StatusQueued,
		Prompt:      prompt,
		CreatedAt:   now,
		UpdatedAt:   now,
		TaskType:    taskType,
	}
	e.tasks[key] = item
	if err := e.persist(); err != nil {
		delete(e.tasks, key)
		return nil, err
	}
	return item.Clone(), nil
}

func (e *engine) getItemLocked(namespace, taskID string) *QueueItem {
	item, ok := e.tasks[taskKey(namespace, taskID)]
	if !ok {
		return nil
	}
	return item.Clone()
}

// claimLocked selects the oldest QUEUED item in namespace (by created_at
// ascending, ties broken by task_id) and atomically transitions it to
// RUNNING. Because the whole operation runs under e.mu, "atomic" here is
// trivially true in-process — the same guarantee the Postgres backend gets
// from FOR UPDATE SKIP LOCKED, scoped to a single process instead of
// multiple writers.
func (e *engine) claimLocked(namespace string) (ClaimResult, error) {
	var candidate *QueueItem
	for _, item := range e.tasks {
		if item.Namespace != namespace || item.Status != StatusQueued {
			continue
		}
		if candidate == nil ||
			item.CreatedAt.Before(candidate.CreatedAt) ||
			(item.CreatedAt.Equal(candidate.CreatedAt) && item.TaskID < candidate.TaskID) {
			candidate = item
		}
	}
	if candidate == nil {
		return ClaimResult{Success: false}, nil
	}
	now := e.now().UTC()
	if !now.After(candidate.UpdatedAt) {
		now = candidate.UpdatedAt.Add(time.Nanosecond)
	}
	candidate.Status = StatusRunning
	candidate.UpdatedAt = now
	if err := e.persist(); err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Success: true, Item: candidate.Clone()}, nil
}

func (e *engine) updateStatusLocked(namespace, taskID string, status Status, errorMessage, output string) error {
	item, ok := e.tasks[taskKey(namespace, taskID)]
	if !ok {
		return fmt.Errorf("update_status %s: %w", taskID, ErrNotFound)
	}
	item.Status = status
	item.UpdatedAt = e.now().UTC()
	if errorMessage != "" {
		item.ErrorMessage = errorMessage
	}
	if output != "" {
		item.Output = output
	}
	return e.persist()
}

func (e *engine) updateStatusWithValidationLocked(namespace, taskID string, newStatus Status) (StatusUpdateResult, error) {
	item, ok := e.tasks[taskKey(namespace, taskID)]
	if !ok {
		return StatusUpdateResult{}, fmt.Errorf("update_status_with_validation %s: %w", taskID, ErrNotFound)
	}
	old := item.Status
	if !CanTransition(old, newStatus) {
		return StatusUpdateResult{
			Success:   false,
			TaskID:    taskID,
			OldStatus: old,
			Error:     "Invalid status transition",
			Message:   fmt.Sprintf("Cannot transition from %s to %s", old, newStatus),
		}, nil
	}
	item.Status = newStatus
	item.UpdatedAt = e.now().UTC()
	if err := e.persist(); err != nil {
		return StatusUpdateResult{}, err
	}
	return StatusUpdateResult{Success: true, TaskID: taskID, OldStatus: old, NewStatus: newStatus}, nil
}

func (e *engine) setAwaitingResponseLocked(namespace, taskID string, clarification Clarification, conversationHistory []ConversationEntry, output string) error {
	item, ok := e.tasks[taskKey(namespace, taskID)]
	if !ok {
		return fmt.Errorf("set_awaiting_response %s: %w", taskID, ErrNotFound)
	}
	if item.Status != StatusRunning {
		return fmt.Errorf("set_awaiting_response %s: source status %s: %w", taskID, item.Status, ErrInvalidStatus)
	}
	item.Status = StatusAwaitingResponse
	item.UpdatedAt = e.now().UTC()
	clarif := clarification
	item.Clarification = &clarif
	if conversationHistory != nil {
		item.ConversationHistory = append(item.ConversationHistory, conversationHistory...)
	}
	if output != "" {
		item.Output = output
	}
	return e.persist()
}

func (e *engine) resumeWithResponseLocked(namespace, taskID, userResponse string) (StatusUpdateResult, error) {
	item, ok := e.tasks[taskKey(namespace, taskID)]
	if !ok {
		return StatusUpdateResult{}, fmt.Errorf("resume_with_response %s: %w", taskID, ErrNotFound)
	}
	if item.Status != StatusAwaitingResponse {
		return StatusUpdateResult{}, fmt.Errorf("resume_with_response %s: source status %s: %w", taskID, item.Status, ErrInvalidStatus)
	}
	old := item.Status
	item.Status = StatusQueued
	item.UpdatedAt = e.now().UTC()
	item.ConversationHistory = append(item.ConversationHistory, ConversationEntry{
		Role:      RoleUser,
		Content:   userResponse,
		Timestamp: item.UpdatedAt,
	})
	if err := e.persist(); err != nil {
		return StatusUpdateResult{}, err
	}
	return StatusUpdateResult{Success: true, TaskID: taskID, OldStatus: old, NewStatus: StatusQueued}, nil
}

func (e *engine) appendEventLocked(namespace, taskID string, event Event) (bool, error) {
	item, ok := e.tasks[taskKey(namespace, taskID)]
	if !ok {
		return false, nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	item.Events = append(item.Events, event)
	if len(item.Events) > MaxEvents {
		item.Events = item.Events[len(item.Events)-MaxEvents:]
	}
	item.UpdatedAt = event.Timestamp
	if err := e.persist(); err != nil {
		return false, err
	}
	return true, nil
}

func (e *engine) getByStatusLocked(namespace string, status Status) []*QueueItem {
	var out []*QueueItem
	for _, item := range e.tasks {
		if item.Namespace == namespace && item.Status == status {
			out = append(out, item.Clone())
		}
	}
	sortByCreatedAt(out)
	return out
}

func (e *engine) getByTaskGroupLocked(namespace, taskGroupID string) []*QueueItem {
	var out []*QueueItem
	for _, item := range e.tasks {
		if item.Namespace == namespace && item.TaskGroupID == taskGroupID {
			out = append(out, item.Clone())
		}
	}
	sortByCreatedAt(out)
	return out
}

func (e *engine) getAllItemsLocked(namespace string) []*QueueItem {
	var out []*QueueItem
	for _, item := range e.tasks {
		if item.Namespace == namespace {
			out = append(out, item.Clone())
		}
	}
	sortByCreatedAt(out)
	return out
}

func sortByCreatedAt(items []*QueueItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].TaskID < items[j].TaskID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func (e *engine) getAllTaskGroupsLocked(namespace string) []TaskGroupSummary {
	groups := make(map[string]*TaskGroupSummary)
	for _, item := range e.tasks {
		if item.Namespace != namespace || item.TaskGroupID == "" {
			continue
		}
		g, ok := groups[item.TaskGroupID]
		if !ok {
			g = &TaskGroupSummary{
				TaskGroupID:     item.TaskGroupID,
				Namespace:       namespace,
				StatusCounts:    make(map[Status]int),
				OldestCreatedAt: item.CreatedAt,
				NewestUpdatedAt: item.UpdatedAt,
			}
			groups[item.TaskGroupID] = g
		}
		g.TaskCount++
		g.StatusCounts[item.Status]++
		if item.CreatedAt.Before(g.OldestCreatedAt) {
			g.OldestCreatedAt = item.CreatedAt
		}
		if item.UpdatedAt.After(g.NewestUpdatedAt) {
			g.NewestUpdatedAt = item.UpdatedAt
		}
	}
	out := make([]TaskGroupSummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskGroupID < out[j].TaskGroupID })
	return out
}

func (e *engine) getAllNamespacesLocked(heartbeatTimeout time.Duration) []NamespaceSummary {
	summaries := make(map[string]*NamespaceSummary)
	ensure := func(ns string) *NamespaceSummary {
		s, ok := summaries[ns]
		if !ok {
			s = &NamespaceSummary{Namespace: ns, StatusCounts: make(map[Status]int)}
			summaries[ns] = s
		}
		return s
	}
	for _, item := range e.tasks {
		s := ensure(item.Namespace)
		s.TaskCount++
		s.StatusCounts[item.Status]++
	}
	now := e.now()
	for _, r := range e.runners {
		s := ensure(r.Namespace)
		s.RunnerCount++
		if now.Sub(r.LastHeartbeat) < heartbeatTimeout {
			s.AliveRunnerCount++
		}
	}
	out := make([]NamespaceSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out
}

func (e *engine) recoverStaleTasksLocked(namespace string, maxAge time.Duration) (int, error) {
	now := e.now().UTC()
	recovered := 0
	for _, item := range e.tasks {
		if item.Namespace != namespace || item.Status != StatusRunning {
			continue
		}
		if now.Sub(item.UpdatedAt) <= maxAge {
			continue
		}
		seconds := int(now.Sub(item.UpdatedAt).Seconds())
		item.Status = StatusError
		item.ErrorMessage = fmt.Sprintf("Task stale: running for %ds without completion", seconds)
		item.UpdatedAt = now
		recovered++
	}
	if recovered > 0 {
		if err := e.persist(); err != nil {
			return 0, err
		}
	}
	return recovered, nil
}

func (e *engine) updateRunnerHeartbeatLocked(namespace, runnerID, projectRoot string) error {
	key := runnerKey(namespace, runnerID)
	now := e.now().UTC()
	rec, ok := e.runners[key]
	if !ok {
		rec = &RunnerRecord{
			Namespace:   namespace,
			RunnerID:    runnerID,
			StartedAt:   now,
			ProjectRoot: projectRoot,
		}
		e.runners[key] = rec
	}
	rec.LastHeartbeat = now
	rec.Status = RunnerStatusRunning
	if projectRoot != "" {
		rec.ProjectRoot = projectRoot
	}
	return e.persist()
}

func (e *engine) getRunnerLocked(namespace, runnerID string) *RunnerRecord {
	rec, ok := e.runners[runnerKey(namespace, runnerID)]
	if !ok {
		return nil
	}
	clone := *rec
	return &clone
}

func (e *engine) getAllRunnersLocked(namespace string) []*RunnerRecord {
	var out []*RunnerRecord
	for _, r := range e.runners {
		if r.Namespace == namespace {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunnerID < out[j].RunnerID })
	return out
}

func (e *engine) getRunnersWithStatusLocked(namespace string, heartbeatTimeout time.Duration) []RunnerView {
	now := e.now()
	var out []RunnerView
	for _, r := range e.runners {
		if r.Namespace != namespace {
			continue
		}
		out = append(out, RunnerView{
			RunnerRecord: *r,
			IsAlive:      now.Sub(r.LastHeartbeat) < heartbeatTimeout,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunnerID < out[j].RunnerID })
	return out
}

func (e *engine) markRunnerStoppedLocked(namespace, runnerID string) error {
	rec, ok := e.runners[runnerKey(namespace, runnerID)]
	if !ok {
		return nil
	}
	rec.Status = RunnerStatusStopped
	return e.persist()
}

func (e *engine) deleteRunnerLocked(namespace, runnerID string) error {
	key := runnerKey(namespace, runnerID)
	if _, ok := e.runners[key]; !ok {
		return nil
	}
	delete(e.runners, key)
	return e.persist()
}

// splitKey recovers the namespace prefix from a "namespace:id" key by
// splitting at the first ':'. Namespaces are not validated, so a namespace
// that itself contains ':' is split at that earlier position.
func splitKey(key string) (namespace, id string) {
	i := strings.IndexByte(key, ':')
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+1:]
}
