package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimezone      = "America/Los_Angeles"
	DefaultHTTPAddr      = "127.0.0.1:8080"
	DefaultMetricsPath   = "/metrics"
	DefaultGuardWindow   = time.Minute
	DefaultTitleMax      = 40
	DefaultBodyMax       = 140
	MissedPolicyDrop     = "drop"
	MissedPolicyDispatch = "dispatch"
)

// Validate checks every field that would otherwise fail later at wiring time.
// It reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	for path, raw := range map[string]string{
		"http.read_timeout":            cfg.HTTP.ReadTimeout,
		"http.write_timeout":           cfg.HTTP.WriteTimeout,
		"http.idle_timeout":            cfg.HTTP.IdleTimeout,
		"scheduler.guard_window":       cfg.Scheduler.GuardWindow,
		"scheduler.reconcile_interval": cfg.Scheduler.ReconcileInterval,
		"scheduler.fire_retry_delay":   cfg.Scheduler.FireRetryDelay,
		"storage.busy_timeout":         cfg.Storage.BusyTimeout,
		"notifier.timeout":             cfg.Notifier.Timeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Scheduler.MissedPolicy)) {
	case "", MissedPolicyDispatch, MissedPolicyDrop:
	default:
		add(fmt.Errorf("scheduler.missed_policy: unknown policy %q", cfg.Scheduler.MissedPolicy))
	}
	if cfg.Scheduler.TitleMax < 0 || cfg.Scheduler.BodyMax < 0 {
		add(errors.New("scheduler.title_max/body_max must be >= 0"))
	}
	if cfg.HTTP.RatePerSec < 0 {
		add(errors.New("http.rate_per_sec must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "file":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path is required when storage.driver=sqlite"))
		}
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			add(errors.New("storage.redis.addr is required when storage.driver=redis"))
		}
	default:
		add(fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Notifier.Driver)) {
	case "", "log":
	case "webhook":
		u, err := url.Parse(strings.TrimSpace(cfg.Notifier.Webhook.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add(errors.New("notifier.webhook.url must be an absolute http(s) URL"))
		}
	case "telegram":
		if strings.TrimSpace(cfg.Notifier.Telegram.Token) == "" {
			add(errors.New("notifier.telegram.token is required (or TOASTD_TELEGRAM_TOKEN)"))
		}
	default:
		add(fmt.Errorf("unknown notifier.driver: %s", cfg.Notifier.Driver))
	}
	if cfg.Notifier.RatePerSec < 0 || cfg.Notifier.HistorySize < 0 {
		add(errors.New("notifier.rate_per_sec/history_size must be >= 0"))
	}

	return errors.Join(errs...)
}
