package domain

import "time"

// Task is a deadline-bound item tracked inside a chat.
//
// The four flags are the persisted truth; State() derives the lifecycle
// stage from them. Every combination the flags can reach is kept as-is
// (e.g. MainNotified without Notified when no reminder was configured).
type Task struct {
	ID              int64
	ChatID          int64
	CreatorID       int64
	Text            string
	Due             time.Time // UTC
	ReminderMinutes int       // 0 = no reminder

	Notified     bool // reminder delivered
	MainNotified bool // due alert delivered
	Confirmed    bool // acknowledged by a user
	Active       bool // false once soft-deleted
}

// State is the lifecycle stage of a task.
type State int

const (
	StateScheduled State = iota
	StateReminderSent
	StateDueAlerted
	StateConfirmed
	StateInactive
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateReminderSent:
		return "reminder_sent"
	case StateDueAlerted:
		return "due_alerted"
	case StateConfirmed:
		return "confirmed"
	case StateInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// State derives the lifecycle stage. Inactive wins over everything,
// then the most advanced milestone reached.
func (t Task) State() State {
	switch {
	case !t.Active:
		return StateInactive
	case t.Confirmed:
		return StateConfirmed
	case t.MainNotified:
		return StateDueAlerted
	case t.Notified:
		return StateReminderSent
	default:
		return StateScheduled
	}
}

// HasReminder reports whether an advance reminder is configured.
func (t Task) HasReminder() bool { return t.ReminderMinutes > 0 }

// ReminderAt returns the instant the reminder becomes due.
// Only meaningful when HasReminder is true.
func (t Task) ReminderAt() time.Time {
	return t.Due.Add(-time.Duration(t.ReminderMinutes) * time.Minute)
}

// ReminderDue reports whether the reminder should be delivered at now.
func (t Task) ReminderDue(now time.Time) bool {
	return t.HasReminder() && !t.Notified && !now.Before(t.ReminderAt())
}

// AlertDue reports whether the due alert should be delivered at now.
func (t Task) AlertDue(now time.Time) bool {
	return !t.MainNotified && !now.Before(t.Due)
}

// TaskUpdate is a partial update; nil fields are left untouched.
type TaskUpdate struct {
	Text            *string
	Due             *time.Time
	ReminderMinutes *int
	Notified        *bool
	MainNotified    *bool
	Confirmed       *bool
}

// IsEmpty reports whether the update changes nothing.
func (u TaskUpdate) IsEmpty() bool {
	return u.Text == nil && u.Due == nil && u.ReminderMinutes == nil &&
		u.Notified == nil && u.MainNotified == nil && u.Confirmed == nil
}

// Ptr returns a pointer to v. Handy for building TaskUpdate literals.
func Ptr[T any](v T) *T { return &v }
