package config

import (
	"os"
	"strings"
)

// Config is the root of toastd's config file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  NotifierConfig  `json:"notifier"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the API listener.
//
// Security note: identity headers are trusted as-is, so bind to loopback or
// put the listener behind the proxy that resolves them.
type HTTPConfig struct {
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	// RatePerSec is a per-client-IP request budget. 0 disables limiting.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// Pprof mounts the runtime profiler under /debug. Loopback binds only.
	Pprof bool `json:"pprof,omitempty"`
}

// SchedulerConfig controls scheduled toasts.
//
// Defaults (when fields are omitted/zero):
//   - timezone: "America/Los_Angeles"
//   - guard_window: "1m"
//   - missed_policy: "dispatch"
//   - reconcile_interval: "0s" (startup sweep only)
//   - title_max: 40, body_max: 140
type SchedulerConfig struct {
	Timezone          string `json:"timezone,omitempty"`
	GuardWindow       string `json:"guard_window,omitempty"`
	MissedPolicy      string `json:"missed_policy,omitempty"`
	ReconcileInterval string `json:"reconcile_interval,omitempty"`
	TitleMax          int    `json:"title_max,omitempty"`
	BodyMax           int    `json:"body_max,omitempty"`
	// FireRetryDelay is the first backoff after a failed store read at fire time.
	FireRetryDelay string `json:"fire_retry_delay,omitempty"`
}

// StorageConfig selects the document store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/toastd.db" }
type StorageConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"` // sqlite
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // or TOASTD_REDIS_PASSWORD (do not log)
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// NotifierConfig selects and tunes the delivery adapter.
type NotifierConfig struct {
	Driver      string         `json:"driver"` // log | webhook | telegram
	RatePerSec  int            `json:"rate_per_sec,omitempty"`
	Timeout     string         `json:"timeout,omitempty"`
	HistorySize int            `json:"history_size,omitempty"`
	Webhook     WebhookConfig  `json:"webhook,omitempty"`
	Telegram    TelegramConfig `json:"telegram,omitempty"`
}

type WebhookConfig struct {
	URL   string `json:"url,omitempty"`
	Token string `json:"token,omitempty"` // or TOASTD_WEBHOOK_TOKEN (do not log)
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"` // or TOASTD_TELEGRAM_TOKEN (do not log)
	// Tenants maps a space id to a telegram chat id ("-100123" or "-100123/7" for a topic).
	Tenants map[string]string `json:"tenants,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // default: "/metrics"
}

// ApplyEnv fills secrets from the environment when the file leaves them empty.
func (c *Config) ApplyEnv() {
	if c == nil {
		return
	}
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	fill(&c.Notifier.Telegram.Token, "TOASTD_TELEGRAM_TOKEN")
	fill(&c.Notifier.Webhook.Token, "TOASTD_WEBHOOK_TOKEN")
	fill(&c.Storage.Redis.Password, "TOASTD_REDIS_PASSWORD")
}
