package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"toastd/internal/eventbus"
	"toastd/internal/metrics"
	logx "toastd/pkg/logx"
)

const (
	defaultRatePerSec  = 5
	defaultTimeout     = 10 * time.Second
	defaultHistorySize = 200
)

// Service fronts a Dispatcher with a token-bucket rate limit, a per-call
// timeout, metrics, bus events and a bounded history.
//
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	d   Dispatcher
	log logx.Logger
	bus eventbus.Bus
	m   *metrics.Metrics

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, d Dispatcher, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{d: d, log: log, bus: bus, m: m}
	s.applyLocked(cfg)
	return s
}

// Apply swaps rate limit, timeout and history size at runtime.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) DispatcherName() string {
	if s.d == nil {
		return ""
	}
	return s.d.Name()
}

// Dispatch delivers t once. The wait for a rate-limit token counts against
// the call timeout.
func (s *Service) Dispatch(ctx context.Context, t Toast) error {
	if strings.TrimSpace(t.Title) == "" && strings.TrimSpace(t.Body) == "" {
		return ErrEmpty
	}
	if s.d == nil {
		return fmt.Errorf("no dispatcher configured")
	}

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := lim.Wait(cctx)
	if err == nil {
		err = s.d.Dispatch(cctx, t)
	}
	took := time.Since(start)

	s.m.ObserveDispatch(took, err)
	s.appendHistory(cfg.HistorySize, t, took, err)

	data := eventbus.ToastData{TenantID: t.TenantID, AuthorID: t.AuthorID, JobID: t.JobID}
	if err != nil {
		data.Reason = err.Error()
		s.bus.Publish(eventbus.Event{Type: eventbus.ToastDispatchFailed, Data: data})
		s.log.Warn("toast dispatch failed",
			logx.String("dispatcher", s.d.Name()),
			logx.String("tenant_id", t.TenantID),
			logx.String("job_id", t.JobID),
			logx.Duration("took", took),
			logx.Err(err),
		)
		return err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.ToastDispatched, Data: data})
	s.log.Debug("toast dispatched",
		logx.String("dispatcher", s.d.Name()),
		logx.String("tenant_id", t.TenantID),
		logx.String("job_id", t.JobID),
		logx.Duration("took", took),
	)
	return nil
}

// History returns recent dispatches, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(limit int, t Toast, took time.Duration, err error) {
	it := HistoryItem{At: time.Now(), TenantID: t.TenantID, JobID: t.JobID, Title: t.Title, Took: took}
	if err != nil {
		it.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}
