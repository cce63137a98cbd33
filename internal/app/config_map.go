package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskbot/internal/bot"
	"taskbot/internal/config"
	"taskbot/internal/reminder"
	"taskbot/internal/storage"
	"taskbot/internal/transport/telegram"
	logx "taskbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	defaultBusyTimeout = 1 * time.Second
	defaultThrottle    = 500 * time.Millisecond
)

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return telegram.Config{}, errors.New("telegram.token is required")
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return storage.Config{}, errors.New("storage.path is required")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	sc := cfg.Scheduler
	interval, err := config.ParseDurationOrDefault("scheduler.interval", sc.Interval, 10*time.Second)
	if err != nil {
		return reminder.Config{}, err
	}
	if interval < time.Second {
		return reminder.Config{}, fmt.Errorf("scheduler.interval must be >= 1s, got %s", interval)
	}
	throttle, err := config.ParseDurationOptional("scheduler.throttle", sc.Throttle, defaultThrottle)
	if err != nil {
		return reminder.Config{}, err
	}
	archive, err := config.ParseDurationOrDefault("scheduler.archive_after", sc.ArchiveAfter, 24*time.Hour)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Enabled:      sc.IsEnabled(),
		Interval:     interval,
		Throttle:     throttle,
		ArchiveAfter: archive,
	}, nil
}

// mapBotConfig leaves Username empty; it is only known once the
// transport has logged in.
func mapBotConfig(cfg *config.Config) (bot.Config, error) {
	b := cfg.Bot
	if b.Workers < 0 {
		return bot.Config{}, fmt.Errorf("bot.workers must be >= 0")
	}
	ttl, err := config.ParseDurationOrDefault("bot.session_ttl", b.SessionTTL, 30*time.Minute)
	if err != nil {
		return bot.Config{}, err
	}
	transient, err := config.ParseDurationOrDefault("bot.transient_ttl", b.TransientTTL, 5*time.Second)
	if err != nil {
		return bot.Config{}, err
	}
	return bot.Config{Workers: b.Workers, SessionTTL: ttl, TransientTTL: transient}, nil
}

// validateConfig rejects a config before it is committed, both on start
// and on hot reload.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBotConfig(cfg); err != nil {
		return err
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		return fmt.Errorf("logging.telegram.rate_per_sec must be >= 0")
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChat == 0 {
		return fmt.Errorf("logging.telegram.enabled requires telegram.log_chat")
	}
	return nil
}
