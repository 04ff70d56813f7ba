package schedule

import (
	"context"
	"testing"
	"time"

	"toastd/internal/storage"
)

func putEntry(t *testing.T, s storage.Store, n Notification) {
	t.Helper()
	if err := s.Put(context.Background(), n.TenantID, entryPath(n.AuthorID, n.JobID), n); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestReconcileRearmsAfterRestart(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	first := newHarness(t, Config{}, store)
	n := first.schedule(t, "t1", "a1", first.wall(5*time.Minute))

	// A new process over the same store: nothing armed until the sweep.
	second := newHarness(t, Config{}, store)
	if second.timer.Len() != 0 {
		t.Fatalf("armed before start")
	}
	if err := second.core.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := second.core.Snapshot()
	if snap.LastSweep.Armed != 1 || snap.LastSweep.Entries != 1 || len(snap.Armed) != 1 || snap.Armed[0].JobID != n.JobID {
		t.Fatalf("snapshot=%+v", snap)
	}

	// A second sweep does not double-arm.
	rep, err := second.core.Reconcile(context.Background())
	if err != nil || rep.AlreadyArmed != 1 || rep.Armed != 0 || second.timer.Len() != 1 {
		t.Fatalf("rep=%+v err=%v armed=%d", rep, err, second.timer.Len())
	}

	second.timer.Advance(5 * time.Minute)
	if second.rec.count() != 1 || second.rec.last().JobID != n.JobID {
		t.Fatalf("not delivered after restart")
	}

	// Ids seen by the sweep are never reissued.
	second.core.ids = &IDGenerator{attempts: 1, newID: func() string { return n.JobID }}
	if _, err := second.core.Schedule(context.Background(), ScheduleRequest{TenantID: "t1", AuthorID: "a1", Title: "x", Body: "y", ScheduledAt: second.wall(time.Hour)}); err == nil {
		t.Fatalf("reissued a known job id")
	}
}

func TestReconcileMissedPolicies(t *testing.T) {
	t.Parallel()
	cases := []struct {
		policy     MissedPolicy
		dispatched int
	}{
		{policy: MissedDispatch, dispatched: 1},
		{policy: MissedDrop, dispatched: 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.policy), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Config{MissedPolicy: tc.policy}, nil)
			ctx := context.Background()
			putEntry(t, h.store, Notification{
				JobID:       "late",
				TenantID:    "t1",
				AuthorID:    "a1",
				Title:       "Reminder",
				Body:        "Missed",
				ScheduledAt: h.timer.Now().Add(-time.Hour),
				CreatedAt:   h.timer.Now().Add(-2 * time.Hour),
			})

			rep, err := h.core.Reconcile(ctx)
			if err != nil {
				t.Fatalf("reconcile: %v", err)
			}
			if h.rec.count() != tc.dispatched || rep.Dispatched != tc.dispatched {
				t.Fatalf("dispatched=%d rep=%+v", h.rec.count(), rep)
			}
			if tc.policy == MissedDrop && rep.Dropped != 1 {
				t.Fatalf("rep=%+v", rep)
			}
			if ok, _ := h.store.Get(ctx, "t1", storage.P("messages", "a1"), nil); ok {
				t.Fatalf("missed entry left in store")
			}
			if h.timer.Len() != 0 {
				t.Fatalf("missed entry armed")
			}
		})
	}
}

func TestReconcileSkipsMalformedAndPrunes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	if err := h.store.Put(ctx, "t1", storage.P("messages", "empty"), map[string]any{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := h.store.Put(ctx, "t1", storage.P("messages", "a1", "bad"), "not an entry"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := h.store.Put(ctx, "t1", storage.P("messages", "a1", "half"), map[string]any{"title": "no time"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	good := Notification{JobID: "good", TenantID: "t1", AuthorID: "a1", Title: "t", Body: "b", ScheduledAt: h.timer.Now().Add(time.Hour)}
	putEntry(t, h.store, good)

	rep, err := h.core.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rep.Malformed != 2 || rep.Pruned != 1 || rep.Armed != 1 || rep.Entries != 3 {
		t.Fatalf("rep=%+v", rep)
	}
	if ok, _ := h.store.Get(ctx, "t1", storage.P("messages", "empty"), nil); ok {
		t.Fatalf("empty bucket not pruned")
	}

	list, err := h.core.List(ctx, "t1")
	if err != nil || len(list) != 1 || list[0].JobID != "good" {
		t.Fatalf("list=%v err=%v", list, err)
	}
}

func TestReconcileCompletesDeliveredCleanup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	n := Notification{JobID: "done", TenantID: "t1", AuthorID: "a1", Title: "t", Body: "b", ScheduledAt: h.timer.Now().Add(-time.Minute)}
	putEntry(t, h.store, n)

	// Delivered earlier but the delete never landed.
	h.core.delivered[n.JobID] = struct{}{}

	if _, err := h.core.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if h.rec.count() != 0 {
		t.Fatalf("delivered twice")
	}
	if ok, _ := h.store.Get(ctx, "t1", entryPath("a1", "done"), nil); ok {
		t.Fatalf("entry not cleaned up")
	}
	if h.core.wasDelivered(n.JobID) {
		t.Fatalf("delivered marker kept")
	}
}

func TestStartStopWithPeriodicSweep(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{ReconcileInterval: 10 * time.Millisecond}, nil)
	ctx := context.Background()
	if err := h.core.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Written behind the scheduler's back; the periodic sweep arms it.
	putEntry(t, h.store, Notification{JobID: "side", TenantID: "t1", AuthorID: "a1", Title: "t", Body: "b", ScheduledAt: h.timer.Now().Add(time.Hour)})
	deadline := time.Now().Add(3 * time.Second)
	for !h.core.registry.Has("side") {
		if time.Now().After(deadline) {
			t.Fatalf("periodic sweep never armed the entry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.core.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
