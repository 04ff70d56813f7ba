package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ManualTimer is a Timer driven by an explicit clock, for tests and
// simulations. Activations are computed with the same descriptor parser as
// the production timer; Advance runs due jobs synchronously in time order.
type ManualTimer struct {
	mu      sync.Mutex
	now     time.Time
	loc     *time.Location
	seq     cron.EntryID
	entries map[cron.EntryID]*manualEntry
}

type manualEntry struct {
	sched cron.Schedule
	next  time.Time
	fn    func()
}

func NewManualTimer(start time.Time, loc *time.Location) *ManualTimer {
	if loc == nil {
		loc = time.Local
	}
	return &ManualTimer{now: start.In(loc), loc: loc, entries: map[cron.EntryID]*manualEntry{}}
}

// Now is the timer's clock; pass it to the scheduler as its clock.
func (m *ManualTimer) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualTimer) Arm(spec string, fn func()) (cron.EntryID, error) {
	sched, err := descriptorParser.Parse(spec)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.entries[m.seq] = &manualEntry{sched: sched, next: sched.Next(m.now), fn: fn}
	return m.seq, nil
}

func (m *ManualTimer) Disarm(id cron.EntryID) {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

func (m *ManualTimer) Next(id cron.EntryID) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		return e.next
	}
	return time.Time{}
}

func (m *ManualTimer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *ManualTimer) Start() {}

func (m *ManualTimer) Stop() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// Advance moves the clock forward by d and reports how many jobs ran.
func (m *ManualTimer) Advance(d time.Duration) int {
	return m.AdvanceTo(m.Now().Add(d))
}

// AdvanceTo runs every activation due at or before target, in order, then
// leaves the clock at target.
func (m *ManualTimer) AdvanceTo(target time.Time) int {
	ran := 0
	for {
		m.mu.Lock()
		e := m.earliestLocked()
		if e == nil || e.next.After(target) {
			if target.After(m.now) {
				m.now = target.In(m.loc)
			}
			m.mu.Unlock()
			return ran
		}
		m.now = e.next
		e.next = e.sched.Next(e.next)
		fn := e.fn
		m.mu.Unlock()

		fn()
		ran++
	}
}

func (m *ManualTimer) earliestLocked() *manualEntry {
	ids := make([]cron.EntryID, 0, len(m.entries))
	for id, e := range m.entries {
		if !e.next.IsZero() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.entries[ids[i]], m.entries[ids[j]]
		if !a.next.Equal(b.next) {
			return a.next.Before(b.next)
		}
		return ids[i] < ids[j]
	})
	return m.entries[ids[0]]
}
