package domain

import "time"

// GroupTimezone is the per-chat timezone preference.
//
// Zone is one of the named zones ("moscow", "ekb", "novosib") or "custom".
// When CustomOffset is set it overrides the named zone offset and
// CustomName is shown instead of the zone label.
type GroupTimezone struct {
	ChatID       int64
	Zone         string
	CustomName   string
	CustomOffset *int
}

// ScheduledTask is an active task joined with its chat timezone (nil when
// the chat never configured one).
type ScheduledTask struct {
	Task
	Timezone *GroupTimezone
}

// TrackedMessage records a bot message so it can be retired later.
// TaskID is 0 for chat-level messages.
type TrackedMessage struct {
	ChatID    int64
	MessageID int
	TaskID    int64
	CreatedAt time.Time
}

// PinnedMessage is the due alert currently pinned for a task.
type PinnedMessage struct {
	ChatID    int64
	TaskID    int64
	MessageID int
}
