// Package tasks implements the user-facing task mutations and their side
// effects on notification flags and tracked messages.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskbot/internal/datetime"
	"taskbot/internal/domain"
	"taskbot/internal/eventbus"
	"taskbot/internal/messages"
	"taskbot/internal/storage"
	"taskbot/internal/timezone"
	logx "taskbot/pkg/logx"
)

var (
	// ErrNotFound means the task does not exist or belongs to another chat.
	ErrNotFound = storage.ErrNotFound
	// ErrMissingComma means a creation line has no "text, date" separator.
	ErrMissingComma = errors.New("expected \"text, DD.MM.YYYY HH:MM\"")
	// ErrEmptyText means the task text is blank.
	ErrEmptyText = errors.New("task text is empty")
	// ErrSameText means an edit would not change the text.
	ErrSameText = errors.New("task text unchanged")
	// ErrInvalidAssignee means a handle does not start with '@'.
	ErrInvalidAssignee = errors.New("assignee must start with @")
	// ErrInvalidReminder means the lead time is not one of the presets.
	ErrInvalidReminder = errors.New("unsupported reminder lead time")
	// ErrUnknownZone means the zone is not a preset.
	ErrUnknownZone = errors.New("unknown timezone")
)

// ReminderPresets are the selectable reminder lead times in minutes.
// 0 disables the reminder.
var ReminderPresets = []int{1440, 360, 180, 120, 60, 30, 10, 5, 0}

// ListWindow is how far past its due instant a task stays in the list.
const ListWindow = 24 * time.Hour

// Service applies task mutations.
type Service struct {
	store storage.Store
	msgs  *messages.Coordinator
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store storage.Store, msgs *messages.Coordinator, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store: store,
		msgs:  msgs,
		bus:   eventbus.Nop(),
		log:   log.With(logx.String("comp", "tasks")),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Zone returns the timezone used to read and render due times for a chat.
func (s *Service) Zone(ctx context.Context, chatID int64) (timezone.Resolved, error) {
	cfg, err := s.store.GetGroupTimezone(ctx, chatID)
	if err != nil {
		return timezone.Resolved{}, err
	}
	return timezone.ForTask(cfg), nil
}

// Create parses due in the chat's timezone and stores a new task.
func (s *Service) Create(ctx context.Context, chatID, creatorID int64, text, due string) (domain.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Task{}, ErrEmptyText
	}
	tz, err := s.Zone(ctx, chatID)
	if err != nil {
		return domain.Task{}, err
	}
	at, err := datetime.Parse(due, tz.Offset, s.now().UTC())
	if err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{ChatID: chatID, CreatorID: creatorID, Text: text, Due: at, Active: true}
	if t.ID, err = s.store.CreateTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	s.log.Info("task created", logx.Task(chatID, t.ID), logx.Time("due", at))
	return t, nil
}

// CreateFromLine reads "Text, <date> <time>". The text may itself contain
// commas; the last one separates it from the date.
func (s *Service) CreateFromLine(ctx context.Context, chatID, creatorID int64, line string) (domain.Task, error) {
	i := strings.LastIndex(line, ",")
	if i < 0 {
		return domain.Task{}, ErrMissingComma
	}
	return s.Create(ctx, chatID, creatorID, line[:i], line[i+1:])
}

// Get returns a task of chatID.
func (s *Service) Get(ctx context.Context, chatID, id int64) (domain.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.ChatID != chatID {
		return domain.Task{}, fmt.Errorf("task %d in chat %d: %w", id, chatID, ErrNotFound)
	}
	return t, nil
}

// ParseDue reads input in the chat's timezone without changing anything.
func (s *Service) ParseDue(ctx context.Context, chatID int64, input string) (time.Time, error) {
	tz, err := s.Zone(ctx, chatID)
	if err != nil {
		return time.Time{}, err
	}
	return datetime.Parse(input, tz.Offset, s.now().UTC())
}

// Reschedule moves the due instant. The reminder and the confirmation are
// re-armed; the due-alert flag is left as it was. Tracked messages of the
// task are retired.
func (s *Service) Reschedule(ctx context.Context, chatID, id int64, input string) (domain.Task, error) {
	t, err := s.Get(ctx, chatID, id)
	if err != nil {
		return domain.Task{}, err
	}
	tz, err := s.Zone(ctx, chatID)
	if err != nil {
		return domain.Task{}, err
	}
	at, err := datetime.Parse(input, tz.Offset, s.now().UTC())
	if err != nil {
		return domain.Task{}, err
	}
	u := domain.TaskUpdate{Due: &at, Notified: domain.Ptr(false), Confirmed: domain.Ptr(false)}
	if err := s.store.UpdateTask(ctx, id, u); err != nil {
		return domain.Task{}, err
	}
	t.Due, t.Notified, t.Confirmed = at, false, false

	s.retire(ctx, chatID, id)
	s.publish(eventbus.TypeRescheduled, chatID, id)
	s.log.Info("task rescheduled", logx.Task(chatID, id), logx.Time("due", at))
	return t, nil
}

// EditText replaces the task text and retires its tracked messages.
func (s *Service) EditText(ctx context.Context, chatID, id int64, text string) (domain.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Task{}, ErrEmptyText
	}
	t, err := s.Get(ctx, chatID, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Text == text {
		return domain.Task{}, ErrSameText
	}
	if err := s.store.UpdateTask(ctx, id, domain.TaskUpdate{Text: &text}); err != nil {
		return domain.Task{}, err
	}
	t.Text = text
	s.retire(ctx, chatID, id)
	return t, nil
}

// SetReminder sets the reminder lead time; 0 turns it off.
func (s *Service) SetReminder(ctx context.Context, chatID, id int64, minutes int) error {
	if !validReminder(minutes) {
		return fmt.Errorf("%w: %d", ErrInvalidReminder, minutes)
	}
	if _, err := s.Get(ctx, chatID, id); err != nil {
		return err
	}
	return s.store.UpdateTask(ctx, id, domain.TaskUpdate{ReminderMinutes: &minutes})
}

func validReminder(minutes int) bool {
	for _, p := range ReminderPresets {
		if p == minutes {
			return true
		}
	}
	return false
}

// AddAssignee adds a handle to the task and returns the full list.
func (s *Service) AddAssignee(ctx context.Context, chatID, id int64, handle string) ([]string, error) {
	handle = strings.TrimSpace(handle)
	if !strings.HasPrefix(handle, "@") || len(handle) < 2 || strings.ContainsAny(handle, " \t\n") {
		return nil, ErrInvalidAssignee
	}
	if _, err := s.Get(ctx, chatID, id); err != nil {
		return nil, err
	}
	if err := s.store.AddAssignee(ctx, id, handle); err != nil {
		return nil, err
	}
	return s.store.ListAssignees(ctx, id)
}

// Confirm acknowledges the task: its pinned due alert is removed, the task
// is flagged confirmed and its tracked messages are retired. The task stays
// active until the archival sweep.
func (s *Service) Confirm(ctx context.Context, chatID, id int64) error {
	if _, err := s.Get(ctx, chatID, id); err != nil {
		return err
	}
	if err := s.msgs.Dismiss(ctx, chatID, id); err != nil {
		s.log.Warn("dismiss due alert failed", logx.Task(chatID, id), logx.Err(err))
	}
	if err := s.store.UpdateTask(ctx, id, domain.TaskUpdate{Confirmed: domain.Ptr(true)}); err != nil {
		return err
	}
	s.retire(ctx, chatID, id)
	s.publish(eventbus.TypeConfirmed, chatID, id)
	s.log.Info("task confirmed", logx.Task(chatID, id))
	return nil
}

// Delete unpins the task's due alert, keeping the message, and removes the
// task with its assignees.
func (s *Service) Delete(ctx context.Context, chatID, id int64) error {
	if _, err := s.Get(ctx, chatID, id); err != nil {
		return err
	}
	if err := s.msgs.Unpin(ctx, chatID, id); err != nil {
		s.log.Warn("unpin before delete failed", logx.Task(chatID, id), logx.Err(err))
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.publish(eventbus.TypeDeleted, chatID, id)
	s.log.Info("task deleted", logx.Task(chatID, id))
	return nil
}

// DeleteAll removes every task of the chat and returns how many went.
func (s *Service) DeleteAll(ctx context.Context, chatID int64) (int64, error) {
	list, err := s.store.ListChatTasks(ctx, chatID, time.Time{})
	if err != nil {
		return 0, err
	}
	for _, t := range list {
		if err := s.msgs.Unpin(ctx, chatID, t.ID); err != nil {
			s.log.Warn("unpin before delete failed", logx.Task(chatID, t.ID), logx.Err(err))
		}
	}
	n, err := s.store.DeleteChatTasks(ctx, chatID)
	if err != nil {
		return 0, err
	}
	for _, t := range list {
		s.publish(eventbus.TypeDeleted, chatID, t.ID)
	}
	s.log.Info("chat tasks deleted", logx.Int64("chat", chatID), logx.Int64("count", n))
	return n, nil
}

func (s *Service) retire(ctx context.Context, chatID, id int64) {
	if err := s.msgs.Retire(ctx, chatID, id); err != nil {
		s.log.Warn("retire task messages failed", logx.Task(chatID, id), logx.Err(err))
	}
}

func (s *Service) publish(typ string, chatID, id int64) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: eventbus.TaskEvent{TaskID: id, ChatID: chatID}})
}
