package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
http:
  addr: 127.0.0.1:9090
  rate_per_sec: 10
scheduler:
  timezone: America/Los_Angeles
  guard_window: 2m
  missed_policy: drop
storage:
  driver: sqlite
  path: ./data/toastd.db
  busy_timeout: 2s
notifier:
  driver: telegram
  telegram:
    tenants:
      space-1: "-100123"
metrics:
  enabled: true
`

func TestDecodeYAML(t *testing.T) {
	t.Setenv("TOASTD_TELEGRAM_TOKEN", "123:abc")

	cfg, err := Decode("toastd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9090" || cfg.Scheduler.MissedPolicy != "drop" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Notifier.Telegram.Tenants["space-1"] != "-100123" {
		t.Fatalf("tenants = %v", cfg.Notifier.Telegram.Tenants)
	}
	if cfg.Notifier.Telegram.Token != "123:abc" {
		t.Fatalf("token should come from env")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	if _, err := Decode("c.json", []byte(`{"logging":{"level":"info"},"plugins":{}}`)); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{"logging":{}} {"logging":{}}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
	if _, err := Decode("c.yml", []byte("logging: [oops")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults ok", func(c *Config) {}, ""},
		{"bad duration", func(c *Config) { c.Scheduler.GuardWindow = "soon" }, "scheduler.guard_window"},
		{"negative duration", func(c *Config) { c.Notifier.Timeout = "-1s" }, "notifier.timeout"},
		{"bad retry delay", func(c *Config) { c.Scheduler.FireRetryDelay = "later" }, "scheduler.fire_retry_delay"},
		{"bad zone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad policy", func(c *Config) { c.Scheduler.MissedPolicy = "retry" }, "missed_policy"},
		{"sqlite needs path", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"redis needs addr", func(c *Config) { c.Storage.Driver = "redis" }, "storage.redis.addr"},
		{"unknown store", func(c *Config) { c.Storage.Driver = "mongo" }, "unknown storage.driver"},
		{"webhook url", func(c *Config) {
			c.Notifier.Driver = "webhook"
			c.Notifier.Webhook.URL = "ftp://x"
		}, "notifier.webhook.url"},
		{"telegram token", func(c *Config) { c.Notifier.Driver = "telegram" }, "notifier.telegram.token"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", " 30s ", time.Minute); err != nil || d != 30*time.Second {
		t.Fatalf("30s: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatalf("negative should fail")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging:   LoggingConfig{Level: "debug"},
		Scheduler: SchedulerConfig{GuardWindow: "5m"},
		Notifier:  NotifierConfig{RatePerSec: 3},
	}
	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "logging,notifier,scheduler" {
		t.Fatalf("changed = %v", changed)
	}
	if strings.Join(restart, ",") != "scheduler" {
		t.Fatalf("restart = %v", restart)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toastd.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" || m.Get() != cfg {
		t.Fatalf("unexpected committed config")
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ch:
		if got.Logging.Level != "debug" {
			t.Fatalf("level = %q", got.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}

	cancel()
	<-done
}
