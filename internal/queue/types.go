// Package queue defines the durable task-queue data model and the Store
// contract shared by every backend (in-memory, file, Postgres).
package queue

import "time"

// Status is the closed set of states a QueueItem can occupy.
type Status string

const (
	StatusQueued            Status = "QUEUED"
	StatusRunning            Status = "RUNNING"
	StatusAwaitingResponse    Status = "AWAITING_RESPONSE"
	StatusComplete            Status = "COMPLETE"
	StatusError              Status = "ERROR"
	StatusCancelled           Status = "CANCELLED"
)

// TaskType is optional metadata about the kind of work a task represents.
type TaskType string

const (
	TaskTypeReadInfo       TaskType = "READ_INFO"
	TaskTypeImplementation TaskType = "IMPLEMENTATION"
	TaskTypeReport         TaskType = "REPORT"
)

// Role identifies the speaker of a conversation history entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationEntry is one turn in a task's conversation_history.
type ConversationEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one entry in a task's bounded progress log.
type Event struct {
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// MaxEvents is the hard cap on a task's events slice (I5).
const MaxEvents = 1000

// ClarificationType classifies why a task paused for input.
type ClarificationType string

const (
	ClarificationBestPractice ClarificationType = "best_practice"
	ClarificationCaseByCase   ClarificationType = "case_by_case"
	ClarificationUnknown      ClarificationType = "unknown"
)

// Clarification is the structured pause-and-ask payload attached to a task
// in AWAITING_RESPONSE.
type Clarification struct {
	Type                ClarificationType `json:"type"`
	Question            string            `json:"question"`
	Options             []string          `json:"options,omitempty"`
	Context             string            `json:"context,omitempty"`
	AutoResolved        bool              `json:"auto_resolved,omitempty"`
	Resolution          string            `json:"resolution,omitempty"`
	ResolutionReasoning string            `json:"resolution_reasoning,omitempty"`
}

// QueueItem is a single durable unit of work. Identity is (Namespace, TaskID).
type QueueItem struct {
	Namespace          string              `json:"namespace"`
	TaskID             string              `json:"task_id"`
	TaskGroupID        string              `json:"task_group_id,omitempty"`
	SessionID          string              `json:"session_id,omitempty"`
	Status             Status              `json:"status"`
	Prompt             string              `json:"prompt"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	TaskType           TaskType            `json:"task_type,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	Output             string              `json:"output,omitempty"`
	Clarification      *Clarification      `json:"clarification,omitempty"`
	ConversationHistory []ConversationEntry `json:"conversation_history,omitempty"`
	Events             []Event             `json:"events,omitempty"`
}

// Clone returns a deep-enough copy of the item so callers can't mutate a
// store's internal state through a returned pointer.
func (q *QueueItem) Clone() *QueueItem {
	if q == nil {
		return nil
	}
	c := *q
	if q.Clarification != nil {
		clarif := *q.Clarification
		c.Clarification = &clarif
	}
	if q.ConversationHistory != nil {
		c.ConversationHistory = append([]ConversationEntry(nil), q.ConversationHistory...)
	}
	if q.Events != nil {
		c.Events = append([]Event(nil), q.Events...)
	}
	return &c
}

// RunnerStatus is the lifecycle state of a RunnerRecord.
type RunnerStatus string

const (
	RunnerStatusRunning RunnerStatus = "RUNNING"
	RunnerStatusStopped RunnerStatus = "STOPPED"
)

// RunnerRecord tracks one poller's liveness. Identity is (Namespace, RunnerID).
type RunnerRecord struct {
	Namespace     string       `json:"namespace"`
	RunnerID      string       `json:"runner_id"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	StartedAt     time.Time    `json:"started_at"`
	Status        RunnerStatus `json:"status"`
	ProjectRoot   string       `json:"project_root"`
}

// RunnerView decorates a RunnerRecord with a computed liveness flag.
type RunnerView struct {
	RunnerRecord
	IsAlive bool `json:"is_alive"`
}

// DefaultHeartbeatTimeout is the default "alive" window for a runner.
const DefaultHeartbeatTimeout = 120 * time.Second

// DefaultStaleTaskAge is the default threshold for recover_stale_tasks.
const DefaultStaleTaskAge = 300 * time.Second

// TaskGroupSummary aggregates tasks sharing a task_group_id.
type TaskGroupSummary struct {
	TaskGroupID     string         `json:"task_group_id"`
	Namespace       string         `json:"namespace"`
	TaskCount       int            `json:"task_count"`
	StatusCounts    map[Status]int `json:"status_counts"`
	OldestCreatedAt time.Time      `json:"oldest_created_at"`
	NewestUpdatedAt time.Time      `json:"newest_updated_at"`
}

// NamespaceSummary aggregates tasks and runners within a namespace.
type NamespaceSummary struct {
	Namespace       string         `json:"namespace"`
	TaskCount       int            `json:"task_count"`
	StatusCounts    map[Status]int `json:"status_counts"`
	RunnerCount     int            `json:"runner_count"`
	AliveRunnerCount int           `json:"alive_runner_count"`
}

// ClaimResult is the outcome of a Store.Claim call.
type ClaimResult struct {
	Success bool
	Item    *QueueItem
	Error   string
}

// StatusUpdateResult is the outcome of UpdateStatusWithValidation.
type StatusUpdateResult struct {
	Success   bool
	TaskID    string
	OldStatus Status
	NewStatus Status
	Error     string
	Message   string
}
