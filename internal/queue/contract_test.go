package queue

import (
	"context"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBackends returns one instance of every in-process backend (memory and
// file) scoped to the same namespace, so the contract suite below runs
// identically against both. PostgresStore implements the same Store
// contract but needs a live database, so it is not part of this suite.
func newBackends(t *testing.T, namespace string, now func() time.Time) map[string]Store {
	t.Helper()
	mem := NewMemoryStore(namespace, now)

	file, err := NewFileStore(t.TempDir(), namespace, now)
	require.NoError(t, err)

	return map[string]Store{
		"memory": mem,
		"file":   file,
	}
}

func forEachBackend(t *testing.T, namespace string, now func() time.Time, fn func(t *testing.T, s Store)) {
	t.Helper()
	for name, store := range newBackends(t, namespace, now) {
		store := store
		t.Run(name, func(t *testing.T) {
			fn(t, store)
		})
	}
}

// R1: enqueue -> get_item returns the same logical item.
func TestContract_EnqueueThenGetItem_RoundTrips(t *testing.T) {
	forEachBackend(t, "ns-r1", nil, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))

		item, err := s.Enqueue(ctx, "sess-1", "group-1", "do the thing", "t1", TaskTypeImplementation)
		require.NoError(t, err)

		got, err := s.GetItem(ctx, "t1", "")
		require.NoError(t, err)
		require.NotNil(t, got)

		assert.Equal(t, item.TaskID, got.TaskID)
		assert.Equal(t, item.Namespace, got.Namespace)
		assert.Equal(t, item.SessionID, got.SessionID)
		assert.Equal(t, item.TaskGroupID, got.TaskGroupID)
		assert.Equal(t, item.Prompt, got.Prompt)
		assert.Equal(t, item.TaskType, got.TaskType)
		assert.Equal(t, StatusQueued, got.Status)
	})
}

func TestContract_EnqueueDuplicateTaskID_Conflicts(t *testing.T) {
	forEachBackend(t, "ns-dup", nil, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))

		_, err := s.Enqueue(ctx, "sess", "group", "p", "dup", TaskTypeReport)
		require.NoError(t, err)

		_, err = s.Enqueue(ctx, "sess", "group", "p2", "dup", TaskTypeReport)
		require.Error(t, err)
	})
}

// Scenario 1 + P1 + P4: atomic claim under contention.
func TestContract_ConcurrentClaim_ExactlyOneWinner(t *testing.T) {
	seededAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	forEachBackend(t, "ns-claim", func() time.Time { return seededAt }, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))

		_, err := s.Enqueue(ctx, "", "", "p", "t1", "")
		require.NoError(t, err)

		const callers = 10
		results := make([]ClaimResult, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := s.Claim(ctx)
				require.NoError(t, err)
				results[i] = res
			}(i)
		}
		wg.Wait()

		successCount := 0
		for _, r := range results {
			if r.Success {
				successCount++
				assert.Equal(t, "t1", r.Item.TaskID)
			}
		}
		assert.Equal(t, 1, successCount, "exactly one caller should win the claim")

		got, err := s.GetItem(ctx, "t1", "")
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, got.Status)
		assert.True(t, got.UpdatedAt.After(seededAt))
	})
}

func TestContract_ClaimOnEmptyQueue_ReturnsUnsuccessful(t *testing.T) {
	forEachBackend(t, "ns-empty", nil, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))

		res, err := s.Claim(ctx)
		require.NoError(t, err)
		assert.False(t, res.Success)
	})
}

// P2 + Scenario 4: invalid transitions are rejected, old_status preserved.
func TestContract_InvalidTransition_Rejected(t *testing.T) {
	forEachBackend(t, "ns-invalid", nil, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))

		_, err := s.Enqueue(ctx, "", "", "p", "t5", "")
		require.NoError(t, err)
		_, err = s.UpdateStatusWithValidation(ctx, "t5", StatusRunning)
		require.NoError(t, err)
		res, err := s.UpdateStatusWithValidation(ctx, "t5", StatusComplete)
		require.NoError(t, err)
		require.True(t, res.Success)

		res, err = s.UpdateStatusWithValidation(ctx, "t5", StatusQueued)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, StatusComplete, res.OldStatus)
		assert.Equal(t, "Invalid status transition", res.Error)
		assert.Equal(t, "Cannot transition from COMPLETE to QUEUED", res.Message)

		got, err := s.GetItem(ctx, "t5", "")
		require.NoError(t, err)
		assert.Equal(t, StatusComplete, got.Status, "state must not change on a rejected transition")
	})
}

// P3 + Scenario 2: clarification handoff invariants.
func TestContract_SetAwaitingResponse_RequiresRunning(t *testing.T) {
	forEachBackend(t, "ns-clarify", nil, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))

		_, err := s.Enqueue(ctx, "", "", "original prompt", "t2", "")
		require.NoError(t, err)

		err = s.SetAwaitingResponse(ctx, "t2", Clarification{Type: ClarificationUnknown, Question: "Which file?"}, nil, "")
		require.Error(t, err, "QUEUED -> AWAITING_RESPONSE must be rejected directly; RUNNING is required")

		claimed, err := s.Claim(ctx)
		require.NoError(t, err)
		require.True(t, claimed.Success)

		err = s.SetAwaitingResponse(ctx, "t2", Clarification{
			Type:     ClarificationUnknown,
			Question: "Which file?",
			Context:  "original prompt",
		}, nil, "")
		require.NoError(t, err)

		got, err := s.GetItem(ctx, "t2", "")
		require.NoError(t, err)
		assert.Equal(t, StatusAwaitingResponse, got.Status)
		require.NotNil(t, got.Clarification)
		assert.Equal(t, "Which file?", got.Clarification.Question)
	})
}

// R2 + Scenario 6: resume_with_response round trip.
func TestContract_ResumeWithResponse_TransitionsToQueuedWithUserEntry(t *testing.T) {
	forEachBackend(t, "ns-resume", nil, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))

		_, err := s.Enqueue(ctx, "", "", "p", "t6", "")
		require.NoError(t, err)
		claimed, err := s.Claim(ctx)
		require.NoError(t, err)
		require.True(t, claimed.Success)
		require.NoError(t, s.SetAwaitingResponse(ctx, "t6", Clarification{Type: ClarificationUnknown, Question: "?"}, nil, ""))

		res, err := s.ResumeWithResponse(ctx, "t6", "use foo.ts")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, StatusAwaitingResponse, res.OldStatus)
		assert.Equal(t, StatusQueued, res.NewStatus)

		got, err := s.GetItem(ctx, "t6", "")
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, got.Status)
		require.Len(t, got.ConversationHistory, 1)
		assert.Equal(t, RoleUser, got.ConversationHistory[0].Role)
		assert.Equal(t, "use foo.ts", got.ConversationHistory[0].Content)
	})
}

func TestContract_ResumeWithResponse_RequiresAwaitingResponse(t *testing.T) {
	forEachBackend(t, "ns-resume-invalid", nil, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))
		_, err := s.Enqueue(ctx, "", "", "p", "t6b", "")
		require.NoError(t, err)

		_, err = s.ResumeWithResponse(ctx, "t6b", "nope")
		require.Error(t, err)
	})
}

// P5: events capped at MaxEvents, last N retained in append order.
func TestContract_AppendEvent_CapsAtMaxEvents(t *testing.T) {
	forEachBackend(t, "ns-events", nil, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))
		_, err := s.Enqueue(ctx, "", "", "p", "t-ev", "")
		require.NoError(t, err)

		total := MaxEvents + 50
		for i := 0; i < total; i++ {
			ok, err := s.AppendEvent(ctx, "t-ev", Event{Type: "progress", Message: strconv.Itoa(i)})
			require.NoError(t, err)
			require.True(t, ok)
		}

		got, err := s.GetItem(ctx, "t-ev", "")
		require.NoError(t, err)
		require.Len(t, got.Events, MaxEvents)
		assert.Equal(t, strconv.Itoa(total-1), got.Events[len(got.Events)-1].Message)
		assert.Equal(t, strconv.Itoa(total-MaxEvents), got.Events[0].Message)
	})
}

func TestContract_AppendEvent_UnknownTask_ReturnsFalse(t *testing.T) {
	forEachBackend(t, "ns-events-missing", nil, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))
		ok, err := s.AppendEvent(ctx, "does-not-exist", Event{Type: "x"})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// P6 + Scenario 3: stale recovery.
func TestContract_RecoverStaleTasks(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	now := func() time.Time { return clock }

	forEachBackend(t, "ns-stale", now, func(t *testing.T, s Store) {
		clock = base
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))

		_, err := s.Enqueue(ctx, "", "", "p", "t3", "")
		require.NoError(t, err)
		res, err := s.Claim(ctx)
		require.NoError(t, err)
		require.True(t, res.Success)

		_, err = s.Enqueue(ctx, "", "", "p", "t4", "")
		require.NoError(t, err)
		res, err = s.Claim(ctx)
		require.NoError(t, err)
		require.True(t, res.Success)

		clock = base.Add(10 * time.Minute)
		require.NoError(t, s.UpdateStatus(ctx, "t4", StatusRunning, "", ""))

		clock = base.Add(10*time.Minute + 10*time.Second)

		recovered, err := s.RecoverStaleTasks(ctx, 300_000)
		require.NoError(t, err)
		assert.Equal(t, 1, recovered)

		t3, err := s.GetItem(ctx, "t3", "")
		require.NoError(t, err)
		assert.Equal(t, StatusError, t3.Status)
		assert.Regexp(t, regexp.MustCompile(`Task stale: running for \d+s without completion`), t3.ErrorMessage)

		t4, err := s.GetItem(ctx, "t4", "")
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, t4.Status)
	})
}

// P9: namespace isolation.
func TestContract_GetAllItems_NamespaceIsolated(t *testing.T) {
	ctx := context.Background()
	memA := NewMemoryStore("ns-a", nil)
	require.NoError(t, memA.EnsureTable(ctx))
	_, err := memA.Enqueue(ctx, "", "", "p", "a1", "")
	require.NoError(t, err)

	memB := NewMemoryStore("ns-b", nil)
	require.NoError(t, memB.EnsureTable(ctx))
	_, err = memB.Enqueue(ctx, "", "", "p", "b1", "")
	require.NoError(t, err)

	items, err := memA.GetAllItems(ctx, "")
	require.NoError(t, err)
	for _, item := range items {
		assert.Equal(t, "ns-a", item.Namespace)
	}
}

// P9 on the file backend too: two stores sharing the same state directory
// (simulating two runners in different namespaces pointed at the same
// project) must not leak each other's items through an unqualified read,
// and a write from one must not clobber the other's entries in the shared
// files (the "foreign-namespace entries survive a write" requirement).
func TestContract_FileStore_NamespaceIsolated_SharedDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	storeA, err := NewFileStore(dir, "ns-a", nil)
	require.NoError(t, err)
	_, err = storeA.Enqueue(ctx, "", "", "p", "a1", "")
	require.NoError(t, err)

	storeB, err := NewFileStore(dir, "ns-b", nil)
	require.NoError(t, err)
	_, err = storeB.Enqueue(ctx, "", "", "p", "b1", "")
	require.NoError(t, err)

	itemsA, err := storeA.GetAllItems(ctx, "")
	require.NoError(t, err)
	require.Len(t, itemsA, 1)
	assert.Equal(t, "a1", itemsA[0].TaskID)

	// Reopen storeA after storeB's write; a1 must still be present.
	reopenedA, err := NewFileStore(dir, "ns-a", nil)
	require.NoError(t, err)
	got, err := reopenedA.GetItem(ctx, "a1", "")
	require.NoError(t, err)
	require.NotNil(t, got, "storeB's write must not have clobbered storeA's entry")
}

// R3: ensure_table is idempotent.
func TestContract_EnsureTable_Idempotent(t *testing.T) {
	forEachBackend(t, "ns-ensure", nil, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))
		require.NoError(t, s.EnsureTable(ctx))
	})
}

func TestContract_GetByStatus_OrdersByCreatedAt(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	now := func() time.Time { return clock }

	forEachBackend(t, "ns-order", now, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))

		clock = base
		_, err := s.Enqueue(ctx, "", "", "p", "first", "")
		require.NoError(t, err)
		clock = base.Add(time.Second)
		_, err = s.Enqueue(ctx, "", "", "p", "second", "")
		require.NoError(t, err)

		items, err := s.GetByStatus(ctx, StatusQueued)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "first", items[0].TaskID)
		assert.Equal(t, "second", items[1].TaskID)
	})
}

func TestContract_Heartbeat_And_RunnerLifecycle(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	now := func() time.Time { return clock }

	forEachBackend(t, "ns-runner", now, func(t *testing.T, s Store) {
		clock = base
		ctx := context.Background()
		require.NoError(t, s.EnsureTable(ctx))

		require.NoError(t, s.UpdateRunnerHeartbeat(ctx, "runner-1", "/proj"))

		rec, err := s.GetRunner(ctx, "runner-1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, RunnerStatusRunning, rec.Status)

		views, err := s.GetRunnersWithStatus(ctx, 1000, "")
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.True(t, views[0].IsAlive)

		clock = base.Add(5 * time.Second)
		views, err = s.GetRunnersWithStatus(ctx, 1000, "")
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.False(t, views[0].IsAlive, "heartbeat older than timeout must be reported as not alive")

		require.NoError(t, s.MarkRunnerStopped(ctx, "runner-1"))
		rec, err = s.GetRunner(ctx, "runner-1")
		require.NoError(t, err)
		assert.Equal(t, RunnerStatusStopped, rec.Status)

		require.NoError(t, s.DeleteRunner(ctx, "runner-1"))
		rec, err = s.GetRunner(ctx, "runner-1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

