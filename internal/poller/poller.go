// Package poller drives the single-worker claim/execute/report loop for one
// runner identity against a queue.Store.
package poller

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"runloop/internal/obslog"
	"runloop/internal/queue"
)

// State is the poller's lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// ExecutionResult is what a TaskExecutor returns for a claimed item.
type ExecutionResult struct {
	Status       queue.Status
	ErrorMessage string
	Output       string
}

// TaskExecutor runs one claimed QueueItem to completion (or failure).
// Implementations may return an error instead of a result to signal the
// executor itself faulted (distinct from the task completing with
// status=ERROR).
type TaskExecutor interface {
	Execute(ctx context.Context, item *queue.QueueItem) (ExecutionResult, error)
}

// awaitingClarificationPrefix is the exact marker an executor's error
// message must begin with to request a pause-and-ask handoff instead of a
// terminal ERROR.
const awaitingClarificationPrefix = "AWAITING_CLARIFICATION:"

// Event is one poller lifecycle or iteration event, delivered to every
// subscriber registered via Subscribe.
type Event struct {
	Type    string
	Item    *queue.QueueItem
	Err     error
	Message string
	Count   int
}

// EventHandler receives poller events. Handlers run synchronously on the
// poller's own goroutine and must not block.
type EventHandler func(Event)

// Config configures a Poller.
type Config struct {
	PollInterval      time.Duration
	MaxStaleTaskAge   time.Duration
	RecoverOnStartup  bool
	RunnerID          string
	ProjectRoot       string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxStaleTaskAge <= 0 {
		c.MaxStaleTaskAge = queue.DefaultStaleTaskAge
	}
	if c.RunnerID == "" {
		c.RunnerID = generateRunnerID(time.Now())
	}
	return c
}

// generateRunnerID synthesizes `runner-{base36(epoch_ms)}-{6 random base36}`.
func generateRunnerID(now time.Time) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("runner-%s-%s", strconv.FormatInt(now.UnixMilli(), 36), string(suffix))
}

// Poller owns the claim/execute/report loop for one runner identity. The
// in-flight invariant (at most one task claimed at a time) is enforced by
// inFlight being read and written only while holding mu.
type Poller struct {
	store    queue.Store
	executor TaskExecutor
	cfg      Config
	log      obslog.Logger

	mu        sync.Mutex
	state     State
	inFlight  *queue.QueueItem
	lastPollAt time.Time
	stopCh    chan struct{}

	subMu       sync.Mutex
	subscribers []EventHandler

	completedCount int
	errorCount     int
}

func New(store queue.Store, executor TaskExecutor, cfg Config, log obslog.Logger) *Poller {
	return &Poller{
		store:    store,
		executor: executor,
		cfg:      cfg.withDefaults(),
		log:      obslog.OrNop(log),
		state:    StateStopped,
	}
}

// Subscribe registers fn to receive every future event, returning an
// unsubscribe function. Grounded on the teacher's listener-chain pattern
// (lark/task_manager.go's setupListeners/EventListener composition),
// generalized from a chain of wrapping listeners to a plain broadcast slice.
func (p *Poller) Subscribe(fn EventHandler) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.subscribers = append(p.subscribers, fn)
	idx := len(p.subscribers) - 1
	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if idx < len(p.subscribers) {
			p.subscribers[idx] = nil
		}
	}
}

func (p *Poller) emit(ev Event) {
	p.subMu.Lock()
	handlers := append([]EventHandler(nil), p.subscribers...)
	p.subMu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(ev)
		}
	}
}

// Start transitions stopped -> running, optionally recovers stale tasks,
// and schedules periodic poll() calls, running one immediately.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.state == StateRunning {
		p.mu.Unlock()
		return
	}
	p.state = StateRunning
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	if p.cfg.RecoverOnStartup {
		n, err := p.store.RecoverStaleTasks(ctx, p.cfg.MaxStaleTaskAge.Milliseconds())
		if err != nil {
			p.log.Warn("recover_stale_tasks failed at startup", "error", err)
		} else if n > 0 {
			p.emit(Event{Type: "stale-recovered", Count: n})
		}
	}

	p.emit(Event{Type: "started"})

	go p.loop(ctx)
	p.poll(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll runs exactly one iteration: heartbeat, claim, execute, report.
func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	p.lastPollAt = time.Now()
	p.mu.Unlock()

	if err := p.store.UpdateRunnerHeartbeat(ctx, p.cfg.RunnerID, p.cfg.ProjectRoot); err != nil {
		p.log.Warn("heartbeat update failed", "error", err)
	}

	if queued, err := p.store.GetByStatus(ctx, queue.StatusQueued); err != nil {
		p.log.Warn("queued count lookup failed", "error", err)
	} else {
		p.emit(Event{Type: "poll", Count: len(queued)})
	}

	// Reserve the in-flight slot before claiming, in the same critical
	// section as the check, so a concurrent poll cannot claim a second task.
	p.mu.Lock()
	if p.inFlight != nil {
		p.mu.Unlock()
		return
	}
	p.inFlight = &queue.QueueItem{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight = nil
		p.mu.Unlock()
	}()

	result, err := p.store.Claim(ctx)
	if err != nil {
		p.log.Error("claim failed", "error", err)
		p.emit(Event{Type: "error", Err: err})
		return
	}
	if !result.Success {
		if result.Error != "" {
			p.emit(Event{Type: "already-claimed", Message: result.Error})
		} else {
			p.emit(Event{Type: "no-task"})
		}
		return
	}

	item := result.Item
	p.mu.Lock()
	p.inFlight = item
	p.mu.Unlock()
	p.emit(Event{Type: "claimed", Item: item})

	p.runExecutor(ctx, item)
}

func (p *Poller) runExecutor(ctx context.Context, item *queue.QueueItem) {
	execResult, err := p.executor.Execute(ctx, item)
	if err != nil {
		// Fail-closed: an executor fault is reported as a terminal ERROR.
		if updErr := p.store.UpdateStatus(ctx, item.TaskID, queue.StatusError, err.Error(), ""); updErr != nil {
			p.log.Error("failed to record executor fault", "task_id", item.TaskID, "error", updErr)
		}
		p.mu.Lock()
		p.errorCount++
		p.mu.Unlock()
		p.emit(Event{Type: "error", Item: item, Err: err})
		return
	}

	if execResult.Status == queue.StatusError && strings.HasPrefix(execResult.ErrorMessage, awaitingClarificationPrefix) {
		question := strings.TrimPrefix(execResult.ErrorMessage, awaitingClarificationPrefix)
		clarification := queue.Clarification{
			Type:     queue.ClarificationUnknown,
			Question: question,
			Context:  item.Prompt,
		}
		if err := p.store.SetAwaitingResponse(ctx, item.TaskID, clarification, nil, execResult.Output); err != nil {
			p.log.Error("failed to set awaiting_response", "task_id", item.TaskID, "error", err)
		}
		p.emit(Event{Type: "clarification_needed", Item: item, Message: question})
		return
	}

	if err := p.store.UpdateStatus(ctx, item.TaskID, execResult.Status, execResult.ErrorMessage, execResult.Output); err != nil {
		p.log.Error("failed to report task status", "task_id", item.TaskID, "error", err)
	}

	p.mu.Lock()
	if execResult.Status == queue.StatusComplete {
		p.completedCount++
	} else {
		p.errorCount++
	}
	p.mu.Unlock()

	if execResult.Status == queue.StatusComplete {
		p.emit(Event{Type: "completed", Item: item})
	} else {
		p.emit(Event{Type: "error", Item: item})
	}
}

// Stop is idempotent: cancels the timer, marks stopping, best-effort marks
// the runner stopped, and emits "stopped".
func (p *Poller) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	p.state = StateStopping
	stopCh := p.stopCh
	p.mu.Unlock()

	close(stopCh)

	if err := p.store.MarkRunnerStopped(ctx, p.cfg.RunnerID); err != nil {
		p.log.Warn("mark_runner_stopped failed", "error", err)
	}

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()

	p.emit(Event{Type: "stopped"})
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) Counters() (completed, errored int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completedCount, p.errorCount
}
