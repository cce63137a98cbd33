package config

// Config is the on-disk configuration. JSON and YAML share the same keys.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "24h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Bot       BotConfig       `json:"bot"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// LogChat is the chat id of the ops chat receiving mirrored log lines.
	LogChat int64 `json:"log_chat,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig points at the SQLite database.
//
// Example:
//
//	"storage": { "path": "./data/tasks.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the reminder pass.
//
// Enabled is a pointer so an omitted key means enabled.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - interval: "10s"
//   - throttle: "500ms" ("0s" disables the pause)
//   - archive_after: "24h"
type SchedulerConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	Interval     string `json:"interval,omitempty"`
	Throttle     string `json:"throttle,omitempty"`
	ArchiveAfter string `json:"archive_after,omitempty"`
}

// BotConfig controls the update router.
//
// Defaults:
//   - workers: 8
//   - session_ttl: "30m"
//   - transient_ttl: "5s"
type BotConfig struct {
	Workers      int    `json:"workers,omitempty"`
	SessionTTL   string `json:"session_ttl,omitempty"`
	TransientTTL string `json:"transient_ttl,omitempty"`
}
