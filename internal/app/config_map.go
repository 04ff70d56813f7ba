package app

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"toastd/internal/config"
	"toastd/internal/httpapi"
	"toastd/internal/notifier"
	"toastd/internal/schedule"
	"toastd/internal/storage"
	logx "toastd/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "memory"
	}
	out := storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path)}
	switch driver {
	case "memory", "file":
	case "sqlite", "sqlite3":
		if out.Path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	case "redis":
		out.RedisAddr = strings.TrimSpace(sc.Redis.Addr)
		out.RedisPassword = sc.Redis.Password
		out.RedisDB = sc.Redis.DB
		out.RedisPrefix = strings.TrimSpace(sc.Redis.Prefix)
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (schedule.Config, error) {
	sc := cfg.Scheduler
	tz := strings.TrimSpace(sc.Timezone)
	if tz == "" {
		tz = config.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return schedule.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
	}
	guard, err := config.ParseDurationOrDefault("scheduler.guard_window", sc.GuardWindow, config.DefaultGuardWindow)
	if err != nil {
		return schedule.Config{}, err
	}
	every, err := config.ParseDurationField("scheduler.reconcile_interval", sc.ReconcileInterval)
	if err != nil {
		return schedule.Config{}, err
	}
	retry, err := config.ParseDurationField("scheduler.fire_retry_delay", sc.FireRetryDelay)
	if err != nil {
		return schedule.Config{}, err
	}
	return schedule.Config{
		Location:          loc,
		GuardWindow:       guard,
		MissedPolicy:      schedule.MissedPolicy(strings.ToLower(strings.TrimSpace(sc.MissedPolicy))),
		ReconcileInterval: every,
		TitleMax:          sc.TitleMax,
		BodyMax:           sc.BodyMax,
		FireRetryDelay:    retry,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	timeout, err := config.ParseDurationField("notifier.timeout", nc.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	if nc.RatePerSec < 0 || nc.HistorySize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec/history_size must be >= 0")
	}
	return notifier.Config{RatePerSec: nc.RatePerSec, Timeout: timeout, HistorySize: nc.HistorySize}, nil
}

// newDispatcher builds the delivery adapter named by notifier.driver.
func newDispatcher(cfg *config.Config, log logx.Logger) (notifier.Dispatcher, error) {
	nc := cfg.Notifier
	switch strings.ToLower(strings.TrimSpace(nc.Driver)) {
	case "", "log":
		return notifier.NewLogDispatcher(log), nil
	case "webhook":
		timeout, err := config.ParseDurationOrDefault("notifier.timeout", nc.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return notifier.NewWebhookDispatcher(strings.TrimSpace(nc.Webhook.URL), nc.Webhook.Token, &http.Client{Timeout: timeout})
	case "telegram":
		return notifier.NewTelegramDispatcher(nc.Telegram.Token, nc.Telegram.Tenants)
	default:
		return nil, fmt.Errorf("unknown notifier.driver: %s", nc.Driver)
	}
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	addr := strings.TrimSpace(hc.Addr)
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	out := httpapi.Config{
		Addr:         addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		RatePerSec:   hc.RatePerSec,
		Pprof:        hc.Pprof,
	}
	if cfg.Metrics.Enabled {
		out.MetricsPath = strings.TrimSpace(cfg.Metrics.Path)
		if out.MetricsPath == "" {
			out.MetricsPath = config.DefaultMetricsPath
		}
	}
	return out, nil
}

// validateWiring rejects configs that pass field validation but cannot be
// wired (e.g. an unparsable telegram route).
func validateWiring(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return err
	}
	if hc.Pprof && !isLoopbackAddr(hc.Addr) {
		return fmt.Errorf("http.pprof requires a loopback http.addr, got %q", hc.Addr)
	}
	for space, target := range cfg.Notifier.Telegram.Tenants {
		if _, err := notifier.ParseChatTarget(target); err != nil {
			return fmt.Errorf("notifier.telegram.tenants.%s: %w", space, err)
		}
	}
	return nil
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
