package config

import (
	"sort"
	"strings"

	logx "taskbot/pkg/logx"
)

// SummarizeChange returns the changed sections and log-safe attributes
// describing them. Secrets such as the bot token are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || trim(ot.PollTimeout) != trim(nt.PollTimeout) || ot.LogChat != nt.LogChat {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", trim(nt.PollTimeout)),
			logx.Bool("telegram.log_chat_set", nt.LogChat != 0),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		nl := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	ostore, nstore := oldCfg.Storage, newCfg.Storage
	if trim(ostore.Path) != trim(nstore.Path) || trim(ostore.BusyTimeout) != trim(nstore.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.path", trim(nstore.Path)),
			logx.String("storage.busy_timeout", trim(nstore.BusyTimeout)),
		)
	}

	if !sameScheduler(oldCfg.Scheduler, newCfg.Scheduler) {
		sc := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", sc.IsEnabled()),
			logx.String("scheduler.interval", trim(sc.Interval)),
			logx.String("scheduler.throttle", trim(sc.Throttle)),
			logx.String("scheduler.archive_after", trim(sc.ArchiveAfter)),
		)
	}

	if oldCfg.Bot != newCfg.Bot {
		b := newCfg.Bot
		changed = append(changed, "bot")
		attrs = append(attrs,
			logx.Int("bot.workers", b.Workers),
			logx.String("bot.session_ttl", trim(b.SessionTTL)),
			logx.String("bot.transient_ttl", trim(b.TransientTTL)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// IsEnabled reports the effective flag; an omitted key means enabled.
func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

func sameScheduler(a, b SchedulerConfig) bool {
	return a.IsEnabled() == b.IsEnabled() &&
		trim(a.Interval) == trim(b.Interval) &&
		trim(a.Throttle) == trim(b.Throttle) &&
		trim(a.ArchiveAfter) == trim(b.ArchiveAfter)
}

func trim(s string) string { return strings.TrimSpace(s) }
