package schedule

import (
	"context"
	"encoding/json"
	"fmt"

	"toastd/internal/eventbus"
	logx "toastd/pkg/logx"
)

// Reconcile walks every tenant document and brings the timer in line with
// the store: future entries are armed, past-due entries follow the missed
// policy, empty author buckets are pruned. Per-entry failures are counted
// and logged; only a failure to enumerate tenants is returned.
func (c *Core) Reconcile(ctx context.Context) (ReconcileReport, error) {
	rep := ReconcileReport{At: c.now()}
	defer func() {
		c.mu.Lock()
		c.lastSweep = rep
		c.mu.Unlock()
		c.m.SetArmed(c.registry.Len())
	}()

	tenants, err := c.store.Tenants(ctx)
	if err != nil {
		rep.Errors++
		return rep, fmt.Errorf("list tenants: %w", err)
	}

	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Tenants++
		c.reconcileTenant(ctx, tenantID, &rep)
	}

	c.log.Debug("sweep finished",
		logx.Int("tenants", rep.Tenants),
		logx.Int("entries", rep.Entries),
		logx.Int("armed", rep.Armed),
		logx.Int("already_armed", rep.AlreadyArmed),
		logx.Int("dispatched", rep.Dispatched),
		logx.Int("dropped", rep.Dropped),
		logx.Int("malformed", rep.Malformed),
		logx.Int("pruned", rep.Pruned),
		logx.Int("errors", rep.Errors),
	)
	return rep, nil
}

func (c *Core) reconcileTenant(ctx context.Context, tenantID string, rep *ReconcileReport) {
	log := c.log.With(logx.String("tenant_id", tenantID))

	var msgs map[string]json.RawMessage
	if _, err := c.store.Get(ctx, tenantID, messagesPath(), &msgs); err != nil {
		rep.Errors++
		log.Warn("sweep: read tenant failed", logx.Err(err))
		return
	}

	for authorID, rawBucket := range msgs {
		var bucket map[string]json.RawMessage
		if err := json.Unmarshal(rawBucket, &bucket); err != nil {
			rep.Malformed++
			log.Warn("sweep: malformed author bucket", logx.String("author_id", authorID), logx.Err(err))
			continue
		}
		if len(bucket) == 0 {
			if pruned, err := c.store.DeleteIfEmpty(ctx, tenantID, bucketPath(authorID)); err != nil {
				rep.Errors++
				log.Warn("sweep: prune failed", logx.String("author_id", authorID), logx.Err(err))
			} else if pruned {
				rep.Pruned++
			}
			continue
		}
		for jobID, raw := range bucket {
			c.markKnown(jobID)
			rep.Entries++
			n, ok := decodeEntry(raw, tenantID, authorID, jobID)
			if !ok {
				rep.Malformed++
				log.Warn("sweep: malformed entry skipped", logx.String("author_id", authorID), logx.String("job_id", jobID))
				continue
			}
			c.reconcileEntry(ctx, n, rep)
		}
	}
}

func (c *Core) reconcileEntry(ctx context.Context, n Notification, rep *ReconcileReport) {
	if c.registry.Has(n.JobID) {
		rep.AlreadyArmed++
		return
	}

	unlock := c.locks.Lock(n.JobID)
	defer unlock()

	log := c.log.With(logx.String("tenant_id", n.TenantID), logx.String("author_id", n.AuthorID), logx.String("job_id", n.JobID))

	// A fire or cancel may have won while the lock was contended.
	ok, err := c.store.Get(ctx, n.TenantID, entryPath(n.AuthorID, n.JobID), nil)
	if err != nil {
		rep.Errors++
		log.Warn("sweep: re-read entry failed", logx.Err(err))
		return
	}
	if !ok {
		return
	}
	if c.registry.Has(n.JobID) {
		rep.AlreadyArmed++
		return
	}

	if c.wasDelivered(n.JobID) {
		if !c.finishLocked(ctx, n, log) {
			rep.Errors++
		}
		return
	}

	now := c.now()
	if n.ScheduledAt.After(now) {
		if _, err := c.arm(n); err != nil {
			rep.Errors++
			log.Warn("sweep: arm failed", logx.Err(err))
			return
		}
		rep.Armed++
		c.bus.Publish(eventbus.Event{Type: eventbus.ToastRearmed, Data: eventbus.ToastData{TenantID: n.TenantID, AuthorID: n.AuthorID, JobID: n.JobID}})
		log.Debug("sweep: trigger re-armed", logx.Time("scheduled_at", n.ScheduledAt))
		return
	}

	c.m.IncMissed(string(c.cfg.MissedPolicy))
	switch c.cfg.MissedPolicy {
	case MissedDrop:
		if _, err := c.store.Delete(ctx, n.TenantID, entryPath(n.AuthorID, n.JobID)); err != nil {
			rep.Errors++
			log.Warn("sweep: drop missed entry failed", logx.Err(err))
			return
		}
		c.pruneBucket(ctx, n.TenantID, n.AuthorID)
		rep.Dropped++
		c.bus.Publish(eventbus.Event{Type: eventbus.ToastMissed, Data: eventbus.ToastData{TenantID: n.TenantID, AuthorID: n.AuthorID, JobID: n.JobID, Reason: string(MissedDrop)}})
		log.Warn("missed toast dropped", logx.Time("scheduled_at", n.ScheduledAt))
	default:
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FireTimeout)
		defer cancel()
		c.bus.Publish(eventbus.Event{Type: eventbus.ToastMissed, Data: eventbus.ToastData{TenantID: n.TenantID, AuthorID: n.AuthorID, JobID: n.JobID, Reason: string(MissedDispatch)}})
		log.Info("missed toast dispatched late", logx.Time("scheduled_at", n.ScheduledAt))
		c.deliverLocked(fctx, n, log)
		rep.Dispatched++
	}
}
