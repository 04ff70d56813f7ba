package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"

	"toastd/internal/eventbus"
	"toastd/internal/metrics"
	"toastd/internal/notifier"
	rtsup "toastd/internal/runtime/supervisor"
	"toastd/internal/storage"
	"toastd/pkg/apperr"
	logx "toastd/pkg/logx"
)

const (
	defaultTimezone    = "America/Los_Angeles"
	defaultGuardWindow = time.Minute
	defaultTitleMax    = 40
	defaultBodyMax     = 140
	defaultFireTimeout = 30 * time.Second
	defaultRetryDelay  = time.Second
	maxFireRetryDelay  = 5 * time.Minute

	// earlyFireSlack tolerates timer jitter before treating a fire as an
	// earlier-year calendar match.
	earlyFireSlack = time.Minute
)

// Deps are the collaborators of Core. Store and Dispatcher are required.
type Deps struct {
	Store      storage.Store
	Dispatcher Dispatcher
	// Timer defaults to a robfig/cron timer in the configured location.
	Timer   Timer
	Log     logx.Logger
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Core is the scheduler: it owns the trigger registry and mediates every
// schedule, fire, cancel and sweep.
type Core struct {
	cfg   Config
	store storage.Store
	disp  Dispatcher
	timer Timer
	now   func() time.Time
	log   logx.Logger
	bus   eventbus.Bus
	m     *metrics.Metrics

	ids      *IDGenerator
	registry *Registry
	locks    keyedMutex

	mu        sync.Mutex
	known     map[string]struct{} // every id issued or seen in the store
	delivered map[string]struct{} // dispatched, store cleanup still pending
	retries   map[string]*fireRetry
	lastSweep ReconcileReport
	baseCtx   context.Context
	sup       *rtsup.Supervisor
	started   bool
	stopped   bool
}

func New(cfg Config, deps Deps) (*Core, error) {
	if deps.Store == nil {
		return nil, errors.New("schedule: store is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("schedule: dispatcher is required")
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation(defaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("schedule: load %s: %w", defaultTimezone, err)
		}
		cfg.Location = loc
	}
	if cfg.GuardWindow <= 0 {
		cfg.GuardWindow = defaultGuardWindow
	}
	switch cfg.MissedPolicy {
	case MissedDispatch, MissedDrop:
	case "":
		cfg.MissedPolicy = MissedDispatch
	default:
		return nil, fmt.Errorf("schedule: unknown missed policy %q", cfg.MissedPolicy)
	}
	if cfg.ReconcileInterval < 0 {
		cfg.ReconcileInterval = 0
	}
	if cfg.TitleMax <= 0 {
		cfg.TitleMax = defaultTitleMax
	}
	if cfg.BodyMax <= 0 {
		cfg.BodyMax = defaultBodyMax
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = defaultFireTimeout
	}
	if cfg.FireRetryDelay <= 0 {
		cfg.FireRetryDelay = defaultRetryDelay
	}

	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.Nop()
	}
	timer := deps.Timer
	if timer == nil {
		timer = NewCronTimer(cfg.Location, log)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Core{
		cfg:       cfg,
		store:     deps.Store,
		disp:      deps.Dispatcher,
		timer:     timer,
		now:       clock,
		log:       log,
		bus:       bus,
		m:         deps.Metrics,
		ids:       NewIDGenerator(),
		registry:  NewRegistry(),
		known:     map[string]struct{}{},
		delivered: map[string]struct{}{},
		retries:   map[string]*fireRetry{},
		baseCtx:   context.Background(),
	}, nil
}

func (c *Core) Config() Config { return c.cfg }

// Start runs the reconciliation sweep, starts the timer and, when
// configured, a periodic sweep. Sweep failures are logged, never returned.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.stopped = false
	c.baseCtx = context.WithoutCancel(ctx)
	c.sup = rtsup.New(ctx,
		rtsup.WithLogger(c.log),
		rtsup.WithCancelOnError(false),
	)
	sup := c.sup
	c.mu.Unlock()

	c.timer.Start()
	rep, err := c.Reconcile(ctx)
	if err != nil {
		c.log.Error("startup sweep failed", logx.Err(err))
	}
	c.log.Info("scheduler started",
		logx.String("tz", c.cfg.Location.String()),
		logx.Int("armed", rep.Armed),
		logx.Int("dispatched", rep.Dispatched),
		logx.Int("dropped", rep.Dropped),
	)

	if every := c.cfg.ReconcileInterval; every > 0 {
		sup.GoRestart("schedule.reconcile", func(ctx context.Context) error {
			t := time.NewTicker(every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-t.C:
					if _, err := c.Reconcile(ctx); err != nil {
						c.log.Warn("periodic sweep failed", logx.Err(err))
					}
				}
			}
		}, time.Second, time.Minute)
	}
	return nil
}

// Stop halts the timer and waits (bounded by ctx) for in-flight fires.
func (c *Core) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	for id, r := range c.retries {
		r.timer.Stop()
		delete(c.retries, id)
	}
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	sup := c.sup
	c.sup = nil
	c.mu.Unlock()

	if sup != nil {
		_ = sup.Stop(ctx)
	}
	select {
	case <-c.timer.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	c.log.Info("scheduler stopped")
	return nil
}

// Schedule validates and persists req, then arms its trigger.
func (c *Core) Schedule(ctx context.Context, req ScheduleRequest) (Notification, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.AuthorID = strings.TrimSpace(req.AuthorID)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.TenantID == "" {
		return Notification{}, apperr.Validation("tenant_id is required")
	}
	if req.AuthorID == "" {
		return Notification{}, apperr.Validation("author_id is required")
	}
	if err := c.validateContent(req.Title, req.Body); err != nil {
		return Notification{}, err
	}

	at, err := resolveWallClock(req.ScheduledAt, req.TimeZone, c.cfg.Location)
	if err != nil {
		return Notification{}, apperr.Validation("%v", err)
	}
	now := c.now().In(c.cfg.Location)
	if at.Sub(now) < c.cfg.GuardWindow {
		return Notification{}, apperr.Validation("scheduled_at must be at least %s in the future", c.cfg.GuardWindow)
	}
	spec := descriptor(at)
	if sched, err := descriptorParser.Parse(spec); err != nil || !sched.Next(at.Add(-time.Second)).Equal(at) {
		return Notification{}, apperr.Validation("scheduled_at %s cannot be expressed as a calendar trigger", at.Format(time.RFC3339))
	}

	jobID, err := c.reserveID(ctx, req.TenantID, req.AuthorID)
	if errors.Is(err, ErrIDExhausted) {
		return Notification{}, apperr.Internal(err, "generate job id")
	}
	if err != nil {
		return Notification{}, apperr.Store(err, "check job id")
	}

	n := Notification{
		JobID:       jobID,
		TenantID:    req.TenantID,
		AuthorID:    req.AuthorID,
		DisplayName: req.DisplayName,
		Title:       req.Title,
		Body:        req.Body,
		ScheduledAt: at,
		CreatedAt:   now,
	}
	if err := c.store.Put(ctx, n.TenantID, entryPath(n.AuthorID, n.JobID), n); err != nil {
		return Notification{}, apperr.Store(err, "persist scheduled toast")
	}

	if _, err := c.arm(n); err != nil {
		// Durable but unarmed: the next sweep arms it.
		c.log.Warn("arm failed; entry left for next sweep", logx.String("job_id", jobID), logx.Err(err))
	}

	c.m.IncScheduled()
	c.bus.Publish(eventbus.Event{Type: eventbus.ToastScheduled, Data: eventbus.ToastData{TenantID: n.TenantID, AuthorID: n.AuthorID, JobID: n.JobID}})
	c.log.Info("toast scheduled",
		logx.String("tenant_id", n.TenantID),
		logx.String("author_id", n.AuthorID),
		logx.String("job_id", n.JobID),
		logx.Time("scheduled_at", n.ScheduledAt),
		logx.String("descriptor", spec),
	)
	return n, nil
}

// Cancel deletes a pending toast and disarms its trigger. A toast that
// already fired (or never existed) yields a not-found error.
func (c *Core) Cancel(ctx context.Context, tenantID, authorID, jobID string) error {
	tenantID, authorID, jobID = strings.TrimSpace(tenantID), strings.TrimSpace(authorID), strings.TrimSpace(jobID)
	if tenantID == "" || authorID == "" || jobID == "" {
		return apperr.Validation("tenant_id, author_id and job_id are required")
	}

	unlock := c.locks.Lock(jobID)
	defer unlock()

	ok, err := c.store.Get(ctx, tenantID, entryPath(authorID, jobID), nil)
	if err != nil {
		return apperr.Store(err, "read scheduled toast")
	}
	if !ok {
		return apperr.NotFound("scheduled toast %s not found", jobID)
	}
	if c.wasDelivered(jobID) {
		// Already sent; only the store cleanup was left.
		log := c.log.With(logx.String("tenant_id", tenantID), logx.String("author_id", authorID), logx.String("job_id", jobID))
		c.finishLocked(ctx, Notification{TenantID: tenantID, AuthorID: authorID, JobID: jobID}, log)
		return apperr.NotFound("scheduled toast %s already fired", jobID)
	}
	if _, err := c.store.Delete(ctx, tenantID, entryPath(authorID, jobID)); err != nil {
		return apperr.Store(err, "delete scheduled toast")
	}
	c.pruneBucket(ctx, tenantID, authorID)
	c.disarm(jobID)

	c.m.IncCancelled()
	c.bus.Publish(eventbus.Event{Type: eventbus.ToastCancelled, Data: eventbus.ToastData{TenantID: tenantID, AuthorID: authorID, JobID: jobID}})
	c.log.Info("toast cancelled", logx.String("tenant_id", tenantID), logx.String("author_id", authorID), logx.String("job_id", jobID))
	return nil
}

// FireNow dispatches a toast immediately. Nothing is persisted.
func (c *Core) FireNow(ctx context.Context, req FireRequest) error {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return apperr.Validation("tenant_id is required")
	}
	if err := c.validateContent(req.Title, req.Body); err != nil {
		return err
	}
	err := c.disp.Dispatch(ctx, notifier.Toast{TenantID: tenantID, AuthorID: strings.TrimSpace(req.AuthorID), Title: req.Title, Body: req.Body})
	if err != nil {
		return apperr.Dispatch(err, "deliver toast")
	}
	return nil
}

// List returns the tenant's pending toasts across all authors, ordered by
// scheduled time.
func (c *Core) List(ctx context.Context, tenantID string) ([]Notification, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, apperr.Validation("tenant_id is required")
	}
	var msgs map[string]json.RawMessage
	if _, err := c.store.Get(ctx, tenantID, messagesPath(), &msgs); err != nil {
		return nil, apperr.Store(err, "list scheduled toasts")
	}
	out := make([]Notification, 0)
	for author, rawBucket := range msgs {
		var bucket map[string]json.RawMessage
		if err := json.Unmarshal(rawBucket, &bucket); err != nil {
			c.log.Warn("malformed author bucket skipped", logx.String("tenant_id", tenantID), logx.String("author_id", author), logx.Err(err))
			continue
		}
		for jobID, raw := range bucket {
			n, ok := decodeEntry(raw, tenantID, author, jobID)
			if !ok {
				c.log.Warn("malformed entry skipped", logx.String("tenant_id", tenantID), logx.String("author_id", author), logx.String("job_id", jobID))
				continue
			}
			if c.wasDelivered(jobID) {
				continue
			}
			out = append(out, n)
		}
	}
	sortNotifications(out)
	return out, nil
}

// Snapshot reports armed triggers and scheduler settings.
func (c *Core) Snapshot() Snapshot {
	c.mu.Lock()
	last := c.lastSweep
	c.mu.Unlock()

	snap := Snapshot{
		Timezone:          c.cfg.Location.String(),
		GuardWindow:       c.cfg.GuardWindow,
		MissedPolicy:      c.cfg.MissedPolicy,
		ReconcileInterval: c.cfg.ReconcileInterval,
		LastSweep:         last,
		Armed:             []ArmedInfo{},
	}
	for _, id := range c.registry.JobIDs() {
		t, ok := c.registry.Get(id)
		if !ok {
			continue
		}
		snap.Armed = append(snap.Armed, ArmedInfo{
			JobID:       id,
			TenantID:    t.tenantID,
			Descriptor:  t.descriptor,
			ScheduledAt: t.scheduledAt,
			Next:        c.timer.Next(t.entryID),
		})
	}
	sort.Slice(snap.Armed, func(i, j int) bool {
		if !snap.Armed[i].ScheduledAt.Equal(snap.Armed[j].ScheduledAt) {
			return snap.Armed[i].ScheduledAt.Before(snap.Armed[j].ScheduledAt)
		}
		return snap.Armed[i].JobID < snap.Armed[j].JobID
	})
	return snap
}

func (c *Core) validateContent(title, body string) error {
	if strings.TrimSpace(title) == "" {
		return apperr.Validation("title is required")
	}
	if strings.TrimSpace(body) == "" {
		return apperr.Validation("body is required")
	}
	if n := utf8.RuneCountInString(title); n > c.cfg.TitleMax {
		return apperr.Validation("title is %d characters, max %d", n, c.cfg.TitleMax)
	}
	if n := utf8.RuneCountInString(body); n > c.cfg.BodyMax {
		return apperr.Validation("body is %d characters, max %d", n, c.cfg.BodyMax)
	}
	return nil
}

// reserveID issues a job id unknown to this process and absent from the
// author's bucket. Ids written by other processes into other buckets are not
// seen until a sweep reads them.
func (c *Core) reserveID(ctx context.Context, tenantID, authorID string) (string, error) {
	for i := 0; i < defaultIDAttempts; i++ {
		id, err := c.nextID()
		if err != nil {
			return "", err
		}
		taken, err := c.store.Get(ctx, tenantID, entryPath(authorID, id), nil)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
		c.log.Warn("job id already stored; retrying", logx.String("tenant_id", tenantID), logx.String("job_id", id))
	}
	return "", ErrIDExhausted
}

func (c *Core) nextID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.ids.Next(func(id string) bool {
		_, seen := c.known[id]
		return seen || c.registry.Has(id)
	})
	if err != nil {
		return "", err
	}
	c.known[id] = struct{}{}
	return id, nil
}

func (c *Core) markKnown(jobID string) {
	c.mu.Lock()
	c.known[jobID] = struct{}{}
	c.mu.Unlock()
}

// arm registers a trigger for n unless one is already armed.
func (c *Core) arm(n Notification) (bool, error) {
	spec := descriptor(n.ScheduledAt.In(c.cfg.Location))
	tenantID, authorID, jobID := n.TenantID, n.AuthorID, n.JobID
	armed, err := c.registry.ArmOnce(jobID, armedTrigger{
		tenantID:    tenantID,
		authorID:    authorID,
		descriptor:  spec,
		scheduledAt: n.ScheduledAt,
	}, func() (cron.EntryID, error) {
		return c.timer.Arm(spec, func() { c.fire(tenantID, authorID, jobID) })
	})
	if armed {
		c.m.SetArmed(c.registry.Len())
	}
	return armed, err
}

// disarm stops the trigger and any pending read retry for jobID.
func (c *Core) disarm(jobID string) {
	c.clearRetry(jobID)
	if t, ok := c.registry.Remove(jobID); ok {
		c.timer.Disarm(t.entryID)
		c.m.SetArmed(c.registry.Len())
	}
}

func (c *Core) pruneBucket(ctx context.Context, tenantID, authorID string) {
	if _, err := c.store.DeleteIfEmpty(ctx, tenantID, bucketPath(authorID)); err != nil {
		c.log.Warn("prune author bucket failed", logx.String("tenant_id", tenantID), logx.String("author_id", authorID), logx.Err(err))
	}
}

func messagesPath() storage.Path                    { return storage.P("messages") }
func bucketPath(authorID string) storage.Path       { return storage.P("messages", authorID) }
func entryPath(authorID, jobID string) storage.Path { return storage.P("messages", authorID, jobID) }

func sortNotifications(ns []Notification) {
	sort.Slice(ns, func(i, j int) bool {
		if !ns[i].ScheduledAt.Equal(ns[j].ScheduledAt) {
			return ns[i].ScheduledAt.Before(ns[j].ScheduledAt)
		}
		return ns[i].JobID < ns[j].JobID
	})
}
