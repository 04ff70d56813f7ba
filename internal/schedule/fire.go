package schedule

import (
	"context"
	"encoding/json"
	"time"

	"toastd/internal/eventbus"
	"toastd/internal/notifier"
	logx "toastd/pkg/logx"
)

// fire is the trigger callback. It runs on the timer's goroutine.
func (c *Core) fire(tenantID, authorID, jobID string) {
	unlock := c.locks.Lock(jobID)
	defer unlock()

	c.mu.Lock()
	base := c.baseCtx
	c.mu.Unlock()
	ctx, cancel := context.WithTimeout(base, c.cfg.FireTimeout)
	defer cancel()

	log := c.log.With(logx.String("tenant_id", tenantID), logx.String("author_id", authorID), logx.String("job_id", jobID))

	var n Notification
	ok, err := c.store.Get(ctx, tenantID, entryPath(authorID, jobID), &n)
	if err != nil {
		// Trigger stays armed; the read is retried with backoff.
		delay := c.retryFire(tenantID, authorID, jobID)
		log.Error("fire: read entry failed", logx.Err(err), logx.Duration("retry_in", delay))
		return
	}
	c.clearRetry(jobID)
	if !ok {
		log.Debug("fire: entry gone; trigger disarmed")
		c.disarm(jobID)
		return
	}
	n.TenantID, n.AuthorID = tenantID, authorID
	if c.wasDelivered(jobID) {
		c.finishLocked(ctx, n, log)
		return
	}

	now := c.now()
	if now.Before(n.ScheduledAt.Add(-earlyFireSlack)) {
		log.Debug("fire: calendar match in an earlier year; still armed",
			logx.Time("scheduled_at", n.ScheduledAt))
		return
	}

	c.deliverLocked(ctx, n, log)
}

// deliverLocked dispatches n and removes every trace of it. The caller holds
// the job lock. Delivery failures are logged; cleanup always runs.
func (c *Core) deliverLocked(ctx context.Context, n Notification, log logx.Logger) {
	err := c.disp.Dispatch(ctx, notifier.Toast{
		TenantID: n.TenantID,
		AuthorID: n.AuthorID,
		JobID:    n.JobID,
		Title:    n.Title,
		Body:     n.Body,
	})
	if err != nil {
		log.Warn("toast delivery failed", logx.Err(err))
	}
	c.mu.Lock()
	c.delivered[n.JobID] = struct{}{}
	c.mu.Unlock()

	c.finishLocked(ctx, n, log)

	c.m.IncFired()
	c.bus.Publish(eventbus.Event{Type: eventbus.ToastFired, Data: eventbus.ToastData{TenantID: n.TenantID, AuthorID: n.AuthorID, JobID: n.JobID}})
	log.Info("toast fired", logx.Bool("delivered", err == nil))
}

// finishLocked removes a delivered entry from the store and the timer. If the
// delete fails the job stays in the delivered set so a sweep only retries the
// cleanup.
func (c *Core) finishLocked(ctx context.Context, n Notification, log logx.Logger) bool {
	defer c.disarm(n.JobID)
	if _, err := c.store.Delete(ctx, n.TenantID, entryPath(n.AuthorID, n.JobID)); err != nil {
		log.Error("delete fired entry failed", logx.Err(err))
		return false
	}
	c.pruneBucket(ctx, n.TenantID, n.AuthorID)
	c.mu.Lock()
	delete(c.delivered, n.JobID)
	c.mu.Unlock()
	return true
}

type fireRetry struct {
	timer   *time.Timer
	attempt int
}

// retryFire schedules another fire of jobID after a backoff and returns the
// delay. It returns 0 once the core is stopped.
func (c *Core) retryFire(tenantID, authorID, jobID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return 0
	}
	r, ok := c.retries[jobID]
	if !ok {
		r = &fireRetry{}
		c.retries[jobID] = r
	}
	delay := c.cfg.FireRetryDelay
	for i := 0; i < r.attempt && delay < maxFireRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxFireRetryDelay {
		delay = maxFireRetryDelay
	}
	r.attempt++
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(delay, func() { c.fire(tenantID, authorID, jobID) })
	return delay
}

func (c *Core) clearRetry(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.retries[jobID]; ok {
		r.timer.Stop()
		delete(c.retries, jobID)
	}
}

func (c *Core) wasDelivered(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.delivered[jobID]
	return ok
}

// decodeEntry decodes one stored entry, checking that its key fields agree
// with its position in the document.
func decodeEntry(raw json.RawMessage, tenantID, authorID, jobID string) (Notification, bool) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return Notification{}, false
	}
	if n.JobID == "" || n.ScheduledAt.IsZero() {
		return Notification{}, false
	}
	if n.JobID != jobID || (n.AuthorID != "" && n.AuthorID != authorID) {
		return Notification{}, false
	}
	n.TenantID = tenantID
	n.AuthorID = authorID
	return n, true
}
