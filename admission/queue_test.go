package admission

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/docsift/docsift/core"
)

func testRequest(userID string, workspaces ...string) *core.SearchRequest {
	if len(workspaces) == 0 {
		workspaces = []string{"ws-default"}
	}
	return &core.SearchRequest{
		RequestID: "req-" + userID,
		Query:     core.NormalizedQuery{Original: "react hooks", Normalized: "react hooks"},
		User: core.UserContext{
			UserID:     userID,
			Workspaces: workspaces,
		},
		CreatedAt: time.Now(),
	}
}

func TestPriorityQueue_HigherPriorityLeavesFirst(t *testing.T) {
	q := NewPriorityQueue(QueueConfig{MaxDepth: 10})

	if _, err := q.Enqueue(testRequest("low"), core.PriorityLow); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(testRequest("critical"), core.PriorityCritical); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(testRequest("normal"), core.PriorityNormal); err != nil {
		t.Fatal(err)
	}

	want := []core.Priority{core.PriorityCritical, core.PriorityNormal, core.PriorityLow}
	for i, p := range want {
		entry, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue %d: queue unexpectedly empty", i)
		}
		if entry.Priority != p {
			t.Errorf("dequeue %d: got %s, want %s", i, entry.Priority, p)
		}
	}
}

func TestPriorityQueue_FIFOWithinPriority(t *testing.T) {
	q := NewPriorityQueue(QueueConfig{MaxDepth: 10})

	for i := 0; i < 3; i++ {
		req := testRequest(fmt.Sprintf("user-%d", i))
		if _, err := q.Enqueue(req, core.PriorityNormal); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		entry, ok := q.Dequeue()
		if !ok {
			t.Fatal("queue unexpectedly empty")
		}
		want := fmt.Sprintf("user-%d", i)
		if entry.Request.User.UserID != want {
			t.Errorf("dequeue %d: got %s, want %s", i, entry.Request.User.UserID, want)
		}
	}
}

func TestPriorityQueue_OverflowAtMaxDepth(t *testing.T) {
	q := NewPriorityQueue(QueueConfig{MaxDepth: 2})

	if _, err := q.Enqueue(testRequest("a"), core.PriorityNormal); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(testRequest("b"), core.PriorityNormal); err != nil {
		t.Fatal(err)
	}
	_, err := q.Enqueue(testRequest("c"), core.PriorityCritical)
	if !errors.Is(err, core.ErrQueueOverflow) {
		t.Fatalf("expected ErrQueueOverflow, got %v", err)
	}

	stats := q.Stats()
	if stats.Overflow1m != 1 {
		t.Errorf("expected 1 overflow in the last minute, got %d", stats.Overflow1m)
	}
}

func TestPriorityQueue_ExpiredEntriesDropped(t *testing.T) {
	var expired []*QueueEntry
	q := NewPriorityQueue(QueueConfig{
		MaxDepth: 10,
		Timeout:  5 * time.Millisecond,
		OnExpired: func(e *QueueEntry) {
			expired = append(expired, e)
		},
	})

	if _, err := q.Enqueue(testRequest("stale"), core.PriorityNormal); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := q.Enqueue(testRequest("fresh"), core.PriorityNormal); err != nil {
		t.Fatal(err)
	}

	entry, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected the fresh entry")
	}
	if entry.Request.User.UserID != "fresh" {
		t.Errorf("expected the stale entry to be skipped, got %s", entry.Request.User.UserID)
	}
	if len(expired) != 1 || expired[0].Request.User.UserID != "stale" {
		t.Errorf("expected the stale entry in the expiry callback, got %v", expired)
	}
}

func TestPriorityQueue_PauseHaltsDequeueOnly(t *testing.T) {
	q := NewPriorityQueue(QueueConfig{MaxDepth: 10})
	q.Pause()

	// Enqueue still succeeds while paused.
	if _, err := q.Enqueue(testRequest("a"), core.PriorityNormal); err != nil {
		t.Fatal(err)
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("paused queue must not dequeue")
	}

	q.Resume()
	if _, ok := q.Dequeue(); !ok {
		t.Error("resumed queue should dequeue")
	}
}

func TestPriorityQueue_ClearByPriority(t *testing.T) {
	q := NewPriorityQueue(QueueConfig{MaxDepth: 10})
	_, _ = q.Enqueue(testRequest("a"), core.PriorityBatch)
	_, _ = q.Enqueue(testRequest("b"), core.PriorityBatch)
	_, _ = q.Enqueue(testRequest("c"), core.PriorityHigh)

	batch := core.PriorityBatch
	if n := q.Clear(&batch); n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
	if q.Depth() != 1 {
		t.Errorf("expected depth 1, got %d", q.Depth())
	}

	if n := q.Clear(nil); n != 1 {
		t.Errorf("expected 1 cleared, got %d", n)
	}
	if q.Depth() != 0 {
		t.Errorf("expected empty queue, got depth %d", q.Depth())
	}
}

func TestPriorityQueue_FairShareBalancesUsers(t *testing.T) {
	q := NewPriorityQueue(QueueConfig{MaxDepth: 10, Ordering: OrderFairShare})

	// Heavy user floods the queue first, then one light entry arrives.
	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(testRequest("heavy"), core.PriorityNormal); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := q.Enqueue(testRequest("light"), core.PriorityNormal); err != nil {
		t.Fatal(err)
	}

	entry, ok := q.Dequeue()
	if !ok {
		t.Fatal("queue unexpectedly empty")
	}
	if entry.Request.User.UserID != "light" {
		t.Errorf("fair share should pick the light user first, got %s", entry.Request.User.UserID)
	}
}

func TestPriorityQueue_WorkerSlots(t *testing.T) {
	q := NewPriorityQueue(QueueConfig{MaxDepth: 10, MaxConcurrent: 2})

	if !q.TryAcquire() || !q.TryAcquire() {
		t.Fatal("expected two free slots")
	}
	if q.TryAcquire() {
		t.Error("third acquire should fail at MaxConcurrent=2")
	}
	q.Release()
	if !q.TryAcquire() {
		t.Error("released slot should be reusable")
	}
}

func TestPriorityQueue_Overloaded(t *testing.T) {
	q := NewPriorityQueue(QueueConfig{MaxDepth: 10, HighWaterRatio: 0.5})

	for i := 0; i < 4; i++ {
		_, _ = q.Enqueue(testRequest(fmt.Sprintf("u%d", i)), core.PriorityNormal)
	}
	if q.Overloaded() {
		t.Error("4/10 should be below the 0.5 high-water mark")
	}
	_, _ = q.Enqueue(testRequest("u5"), core.PriorityNormal)
	if !q.Overloaded() {
		t.Error("5/10 should cross the 0.5 high-water mark")
	}
}

func TestPriorityQueue_StatsSnapshot(t *testing.T) {
	q := NewPriorityQueue(QueueConfig{MaxDepth: 10})
	_, _ = q.Enqueue(testRequest("a", "ws-1"), core.PriorityHigh)
	_, _ = q.Enqueue(testRequest("b", "ws-1"), core.PriorityNormal)
	_, _ = q.Dequeue()
	q.RecordRateLimitHit()

	stats := q.Stats()
	if stats.Depth != 1 {
		t.Errorf("expected depth 1, got %d", stats.Depth)
	}
	if stats.RateLimitHits1m != 1 {
		t.Errorf("expected 1 rate-limit hit, got %d", stats.RateLimitHits1m)
	}
	if len(stats.TopWorkspaces) == 0 || stats.TopWorkspaces[0].Key != "ws-1" {
		t.Errorf("expected ws-1 in the workspace distribution, got %v", stats.TopWorkspaces)
	}
}
