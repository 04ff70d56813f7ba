package schedule

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestRegistryArmOnce(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	var calls atomic.Int32
	arm := func() (cron.EntryID, error) {
		calls.Add(1)
		return cron.EntryID(7), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.ArmOnce("job", armedTrigger{tenantID: "t"}, arm)
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("arm called %d times", calls.Load())
	}
	got, ok := r.Get("job")
	if !ok || got.entryID != 7 || got.tenantID != "t" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}

	if _, ok := r.Remove("job"); !ok {
		t.Fatalf("remove reported missing")
	}
	if r.Has("job") || r.Len() != 0 {
		t.Fatalf("registry not empty")
	}
}

func TestRegistryArmError(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	boom := errors.New("boom")
	armed, err := r.ArmOnce("job", armedTrigger{}, func() (cron.EntryID, error) { return 0, boom })
	if armed || !errors.Is(err, boom) {
		t.Fatalf("armed=%v err=%v", armed, err)
	}
	if r.Has("job") {
		t.Fatalf("failed arm must not register")
	}
}

func TestKeyedMutex(t *testing.T) {
	t.Parallel()
	var k keyedMutex

	unlockA := k.Lock("a")
	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	// Other keys never contend.
	unlockB := k.Lock("b")
	unlockB()

	select {
	case <-acquired:
		t.Fatalf("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}
	unlockA()
	unlockA() // idempotent

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter never acquired")
	}

	deadline := time.Now().Add(2 * time.Second)
	for k.size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("idle keys not freed: %d", k.size())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManualTimer(t *testing.T) {
	t.Parallel()
	la := mustLoc(t, "America/Los_Angeles")
	start := time.Date(2026, 1, 10, 8, 0, 0, 0, la)
	mt := NewManualTimer(start, la)

	var order []string
	id1, err := mt.Arm("5 8 10 1 *", func() { order = append(order, "second") })
	if err != nil {
		t.Fatalf("arm: %v", err)
	}
	if _, err := mt.Arm("1 8 10 1 *", func() { order = append(order, "first") }); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if _, err := mt.Arm("not a spec", func() {}); err == nil {
		t.Fatalf("expected parse error")
	}
	if want := start.Add(5 * time.Minute); !mt.Next(id1).Equal(want) {
		t.Fatalf("next=%v want %v", mt.Next(id1), want)
	}

	if n := mt.Advance(10 * time.Minute); n != 2 {
		t.Fatalf("ran %d", n)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order=%v", order)
	}
	if !mt.Now().Equal(start.Add(10 * time.Minute)) {
		t.Fatalf("now=%v", mt.Now())
	}

	mt.Disarm(id1)
	if mt.Len() != 1 || !mt.Next(id1).IsZero() {
		t.Fatalf("disarm failed")
	}
}
