package schedule

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// armedTrigger is a registry entry: the timer handle plus enough of the
// notification to find it in the store again.
type armedTrigger struct {
	entryID     cron.EntryID
	tenantID    string
	authorID    string
	descriptor  string
	scheduledAt time.Time
}

// Registry maps job ids to armed triggers. It is volatile: the
// reconciliation sweep rebuilds it from the store after a restart.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]armedTrigger
}

func NewRegistry() *Registry {
	return &Registry{jobs: map[string]armedTrigger{}}
}

// ArmOnce calls arm and records the result unless jobID is already
// registered. It reports whether arm ran. The registry lock is held across
// arm so concurrent callers cannot double-arm a job.
func (r *Registry) ArmOnce(jobID string, meta armedTrigger, arm func() (cron.EntryID, error)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; ok {
		return false, nil
	}
	id, err := arm()
	if err != nil {
		return false, err
	}
	meta.entryID = id
	r.jobs[jobID] = meta
	return true, nil
}

func (r *Registry) Get(jobID string) (armedTrigger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.jobs[jobID]
	return t, ok
}

// Remove drops jobID and returns what was registered.
func (r *Registry) Remove(jobID string) (armedTrigger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.jobs[jobID]
	if ok {
		delete(r.jobs, jobID)
	}
	return t, ok
}

func (r *Registry) Has(jobID string) bool {
	_, ok := r.Get(jobID)
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// JobIDs returns registered ids, sorted.
func (r *Registry) JobIDs() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}
