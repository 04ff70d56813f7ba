package config

import (
	"reflect"
	"sort"
	"strings"

	logx "toastd/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = map[string]bool{
	"http":      true,
	"scheduler": true,
	"storage":   true,
	"metrics":   true,
}

// SummarizeConfigChange returns (1) the sorted list of changed sections,
// (2) safe structured fields for logging (never includes tokens or passwords),
// and (3) the subset of changed sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Int("http.rate_per_sec", newCfg.HTTP.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.guard_window", strings.TrimSpace(newCfg.Scheduler.GuardWindow)),
			logx.String("scheduler.missed_policy", strings.TrimSpace(newCfg.Scheduler.MissedPolicy)),
			logx.String("scheduler.reconcile_interval", strings.TrimSpace(newCfg.Scheduler.ReconcileInterval)),
		)
	}

	os, ns := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(os.Driver) != strings.TrimSpace(ns.Driver) ||
		strings.TrimSpace(os.Path) != strings.TrimSpace(ns.Path) ||
		strings.TrimSpace(os.BusyTimeout) != strings.TrimSpace(ns.BusyTimeout) ||
		os.Redis.Addr != ns.Redis.Addr || os.Redis.DB != ns.Redis.DB || os.Redis.Prefix != ns.Redis.Prefix ||
		os.Redis.Password != ns.Redis.Password {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(ns.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.String("storage.redis_addr", ns.Redis.Addr),
		)
	}

	on, nn := oldCfg.Notifier, newCfg.Notifier
	if !reflect.DeepEqual(on, nn) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier.driver", strings.TrimSpace(nn.Driver)),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.String("notifier.timeout", strings.TrimSpace(nn.Timeout)),
			logx.Bool("notifier.webhook_token_set", strings.TrimSpace(nn.Webhook.Token) != ""),
			logx.Bool("notifier.telegram_token_set", strings.TrimSpace(nn.Telegram.Token) != ""),
			logx.Int("notifier.telegram_tenants", len(nn.Telegram.Tenants)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}

	sort.Strings(changed)
	restart := make([]string, 0, len(changed))
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
