package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"runloop/internal/queue"
)

type scriptedExecutor struct {
	mu      sync.Mutex
	results map[string]ExecutionResult
	errs    map[string]error
	calls   []string
}

func (s *scriptedExecutor) Execute(_ context.Context, item *queue.QueueItem) (ExecutionResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, item.TaskID)
	s.mu.Unlock()
	if err, ok := s.errs[item.TaskID]; ok {
		return ExecutionResult{}, err
	}
	return s.results[item.TaskID], nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPollCompletesClaimedTask(t *testing.T) {
	store := queue.NewMemoryStore("ns", time.Now)
	item, err := store.Enqueue(context.Background(), "", "", "do the thing", "", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	exec := &scriptedExecutor{results: map[string]ExecutionResult{
		item.TaskID: {Status: queue.StatusComplete, Output: "done"},
	}}

	var events []Event
	var mu sync.Mutex
	p := New(store, exec, Config{PollInterval: time.Hour, RunnerID: "r1"}, nil)
	p.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	p.Start(context.Background())
	defer p.Stop(context.Background())

	waitFor(t, time.Second, func() bool {
		got, err := store.GetItem(context.Background(), item.TaskID, "")
		return err == nil && got != nil && got.Status == queue.StatusComplete
	})

	got, _ := store.GetItem(context.Background(), item.TaskID, "")
	if got.Output != "done" {
		t.Fatalf("expected output persisted, got %q", got.Output)
	}
}

func TestPollHandlesExecutorFaultFailClosed(t *testing.T) {
	store := queue.NewMemoryStore("ns", time.Now)
	item, err := store.Enqueue(context.Background(), "", "", "do the thing", "", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	exec := &scriptedExecutor{errs: map[string]error{item.TaskID: errors.New("boom")}}
	p := New(store, exec, Config{PollInterval: time.Hour, RunnerID: "r1"}, nil)

	p.Start(context.Background())
	defer p.Stop(context.Background())

	waitFor(t, time.Second, func() bool {
		got, err := store.GetItem(context.Background(), item.TaskID, "")
		return err == nil && got != nil && got.Status == queue.StatusError
	})

	got, _ := store.GetItem(context.Background(), item.TaskID, "")
	if got.ErrorMessage != "boom" {
		t.Fatalf("expected executor fault message recorded, got %q", got.ErrorMessage)
	}
}

func TestPollRoutesClarificationMarkerToAwaitingResponse(t *testing.T) {
	store := queue.NewMemoryStore("ns", time.Now)
	item, err := store.Enqueue(context.Background(), "", "", "do the thing", "", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	exec := &scriptedExecutor{results: map[string]ExecutionResult{
		item.TaskID: {Status: queue.StatusError, ErrorMessage: "AWAITING_CLARIFICATION: which branch?"},
	}}
	p := New(store, exec, Config{PollInterval: time.Hour, RunnerID: "r1"}, nil)

	p.Start(context.Background())
	defer p.Stop(context.Background())

	waitFor(t, time.Second, func() bool {
		got, err := store.GetItem(context.Background(), item.TaskID, "")
		return err == nil && got != nil && got.Status == queue.StatusAwaitingResponse
	})

	got, _ := store.GetItem(context.Background(), item.TaskID, "")
	if got.Clarification == nil || got.Clarification.Question != " which branch?" {
		t.Fatalf("expected clarification question stripped of marker, got %+v", got.Clarification)
	}
}

func TestPollSkipsClaimWhileTaskInFlight(t *testing.T) {
	store := queue.NewMemoryStore("ns", time.Now)
	item, err := store.Enqueue(context.Background(), "", "", "do the thing", "", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	block := make(chan struct{})
	exec := &blockingExecutor{block: block, result: ExecutionResult{Status: queue.StatusComplete}}
	p := New(store, exec, Config{PollInterval: 20 * time.Millisecond, RunnerID: "r1"}, nil)

	p.Start(context.Background())
	defer func() {
		close(block)
		p.Stop(context.Background())
	}()

	time.Sleep(100 * time.Millisecond)

	exec.mu.Lock()
	calls := exec.calls
	exec.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one claim while in flight, got %d", calls)
	}
	_ = item
}

type blockingExecutor struct {
	mu     sync.Mutex
	calls  int
	block  chan struct{}
	result ExecutionResult
}

func (b *blockingExecutor) Execute(_ context.Context, _ *queue.QueueItem) (ExecutionResult, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.block
	return b.result, nil
}

func TestStopIsIdempotent(t *testing.T) {
	store := queue.NewMemoryStore("ns", time.Now)
	p := New(store, &scriptedExecutor{results: map[string]ExecutionResult{}}, Config{PollInterval: time.Hour, RunnerID: "r1"}, nil)

	p.Start(context.Background())
	p.Stop(context.Background())
	p.Stop(context.Background())

	if p.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", p.State())
	}
}
