package storage

import (
	"context"
	"errors"
	"time"

	"taskbot/internal/domain"
)

// ErrNotFound is returned when a referenced task does not exist.
var ErrNotFound = errors.New("not found")

// Config configures storage.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence contract used by the services.
//
// Every method is atomic on its own. Cross-entity rules (assignee cascade)
// are enforced by the store.
type Store interface {
	TaskStore
	AssigneeStore
	TimezoneStore
	MessageStore
	Close() error
}

// TaskStore covers task rows and their flags.
type TaskStore interface {
	CreateTask(ctx context.Context, t domain.Task) (int64, error)
	GetTask(ctx context.Context, id int64) (domain.Task, error)
	// ListChatTasks returns active tasks of a chat due after dueAfter,
	// ordered by due instant ascending.
	ListChatTasks(ctx context.Context, chatID int64, dueAfter time.Time) ([]domain.Task, error)
	// ListActiveTasks returns every active task joined with its chat timezone.
	ListActiveTasks(ctx context.Context) ([]domain.ScheduledTask, error)
	UpdateTask(ctx context.Context, id int64, u domain.TaskUpdate) error
	DeleteTask(ctx context.Context, id int64) error
	DeleteChatTasks(ctx context.Context, chatID int64) (int64, error)
	// ArchiveConfirmed deletes confirmed tasks due before cutoff and returns them.
	ArchiveConfirmed(ctx context.Context, cutoff time.Time) ([]domain.Task, error)
}

// AssigneeStore covers task assignees.
type AssigneeStore interface {
	AddAssignee(ctx context.Context, taskID int64, handle string) error
	ListAssignees(ctx context.Context, taskID int64) ([]string, error)
}

// TimezoneStore covers per-chat timezone preferences.
type TimezoneStore interface {
	// GetGroupTimezone returns nil when the chat has no preference.
	GetGroupTimezone(ctx context.Context, chatID int64) (*domain.GroupTimezone, error)
	SetGroupTimezone(ctx context.Context, tz domain.GroupTimezone) error
}

// MessageStore covers tracked and pinned bot messages.
type MessageStore interface {
	AddTracked(ctx context.Context, m domain.TrackedMessage) error
	// ListTracked lists tracked messages of a chat; taskID 0 lists all of them.
	ListTracked(ctx context.Context, chatID, taskID int64) ([]domain.TrackedMessage, error)
	DeleteTracked(ctx context.Context, chatID int64, messageID int) error

	GetPinned(ctx context.Context, chatID, taskID int64) (domain.PinnedMessage, bool, error)
	SetPinned(ctx context.Context, p domain.PinnedMessage) error
	DeletePinned(ctx context.Context, chatID, taskID int64) error
}
