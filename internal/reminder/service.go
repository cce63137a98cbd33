// Package reminder drives the periodic notification pass: archival of old
// confirmed tasks, advance reminders and pinned due alerts.
package reminder

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskbot/internal/domain"
	"taskbot/internal/eventbus"
	"taskbot/internal/messages"
	"taskbot/internal/storage"
	"taskbot/internal/timezone"
	"taskbot/internal/views"
	logx "taskbot/pkg/logx"
)

type Config struct {
	Enabled      bool
	Interval     time.Duration
	Throttle     time.Duration // pause after each delivery; 0 disables
	ArchiveAfter time.Duration
}

const (
	defaultInterval     = 10 * time.Second
	defaultArchiveAfter = 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Throttle < 0 {
		c.Throttle = 0
	}
	if c.ArchiveAfter <= 0 {
		c.ArchiveAfter = defaultArchiveAfter
	}
	return c
}

// Store is the part of storage the scheduler needs.
type Store interface {
	ListActiveTasks(ctx context.Context) ([]domain.ScheduledTask, error)
	UpdateTask(ctx context.Context, id int64, u domain.TaskUpdate) error
	ArchiveConfirmed(ctx context.Context, cutoff time.Time) ([]domain.Task, error)
	ListAssignees(ctx context.Context, taskID int64) ([]string, error)
}

var _ Store = (storage.Store)(nil)

// Service runs one pass every Interval.
type Service struct {
	store Store
	msgs  *messages.Coordinator
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	// life serializes Start, Stop and Apply. It is a channel so Stop can
	// give up waiting when its ctx ends.
	life chan struct{}

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	ctx     context.Context
	stopped bool
	onTick  []func()
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

func New(cfg Config, store Store, msgs *messages.Coordinator, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg.withDefaults(),
		store: store,
		msgs:  msgs,
		bus:   eventbus.Nop(),
		log:   log.With(logx.String("comp", "reminder")),
		now:   time.Now,
		life:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// OnTick registers fn to run after every pass, e.g. a watchdog ping.
func (s *Service) OnTick(fn func()) {
	s.mu.Lock()
	s.onTick = append(s.onTick, fn)
	s.mu.Unlock()
}

// Start schedules the pass. Passes never overlap; a pass still running
// when the next one is due makes the scheduler skip that one. Start is a
// no-op after Stop or with a cancelled ctx.
func (s *Service) Start(ctx context.Context) {
	s.life <- struct{}{}
	defer func() { <-s.life }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled || s.stopped {
		return
	}
	s.ctx = ctx
	s.startLocked()
}

func (s *Service) startLocked() {
	if s.stopped || s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	s.c = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{s.log}),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	ctx := s.ctx
	s.c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() { s.Tick(ctx) }))
	s.c.Start()
	s.log.Info("reminder scheduler started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Duration("throttle", s.cfg.Throttle),
		logx.Duration("archive_after", s.cfg.ArchiveAfter),
	)
}

// Stop waits for the pass in flight, bounded by ctx. The service cannot
// be started again afterwards.
func (s *Service) Stop(ctx context.Context) error {
	// Mark first so an Apply holding life does not start a new scheduler.
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	select {
	case s.life <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("reminder stop: %w", ctx.Err())
	}
	defer func() { <-s.life }()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("reminder scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reminder stop: %w", ctx.Err())
	}
}

// Apply swaps the config. A running scheduler is restarted when the
// interval changes and stopped when it gets disabled.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.life <- struct{}{}
	defer func() { <-s.life }()

	s.mu.Lock()
	old, c := s.cfg, s.c
	s.cfg = cfg
	restart := s.ctx != nil && !s.stopped &&
		(c == nil && cfg.Enabled || c != nil && (!cfg.Enabled || cfg.Interval != old.Interval))
	s.mu.Unlock()
	if !restart {
		return
	}

	// The pass in flight takes s.mu, so wait outside it. s.c stays set
	// until the old scheduler is done.
	if c != nil {
		<-c.Stop().Done()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == c {
		s.c = nil
	}
	if !cfg.Enabled {
		s.log.Info("reminder scheduler disabled")
		return
	}
	if s.c == nil {
		s.startLocked()
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Tick runs one pass. A failure on one task is logged and the pass moves
// on to the next task.
func (s *Service) Tick(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := s.config()
	now := s.now().UTC()

	s.archive(ctx, now.Add(-cfg.ArchiveAfter))

	list, err := s.store.ListActiveTasks(ctx)
	if err != nil {
		s.log.Error("load active tasks failed", logx.Err(err))
		s.ticked()
		return
	}
	for _, t := range list {
		if ctx.Err() != nil {
			break
		}
		if err := s.evaluate(ctx, t, now, cfg.Throttle); err != nil {
			s.log.Error("task evaluation failed", logx.Task(t.ChatID, t.ID), logx.Err(err))
		}
	}
	s.ticked()
}

func (s *Service) ticked() {
	s.mu.Lock()
	hooks := append([]func(){}, s.onTick...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (s *Service) archive(ctx context.Context, cutoff time.Time) {
	gone, err := s.store.ArchiveConfirmed(ctx, cutoff)
	if err != nil {
		s.log.Error("archive confirmed tasks failed", logx.Err(err))
		return
	}
	for _, t := range gone {
		s.log.Info("task archived", logx.Task(t.ChatID, t.ID))
		s.publish(eventbus.TypeArchived, t, 0, nil)
	}
}

func (s *Service) evaluate(ctx context.Context, st domain.ScheduledTask, now time.Time, throttle time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in task evaluation", logx.Task(st.ChatID, st.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	t := st.Task
	remind, alert := t.ReminderDue(now), t.AlertDue(now)
	if !remind && !alert {
		return nil
	}
	tz := timezone.ForTask(st.Timezone)
	assignees, err := s.store.ListAssignees(ctx, t.ID)
	if err != nil {
		return err
	}

	// A delivery and its flag update complete together even when ctx is
	// cancelled half way; cancellation takes effect at the next pause.
	step := context.WithoutCancel(ctx)
	if remind {
		if err := s.remind(step, t, tz.Offset, assignees); err != nil {
			return err
		}
		sleep(ctx, throttle)
	}
	if alert {
		if err := s.alert(step, t, tz.Offset, assignees); err != nil {
			return err
		}
		sleep(ctx, throttle)
	}
	return nil
}

// remind delivers the reminder, superseding the task's earlier messages.
// The flag advances even when delivery fails.
func (s *Service) remind(ctx context.Context, t domain.Task, offset int, assignees []string) error {
	id, derr := s.msgs.DeliverTracked(ctx, t.ChatID, t.ID, views.Reminder(t, offset, assignees))
	if derr != nil {
		s.log.Warn("reminder delivery failed", logx.Task(t.ChatID, t.ID), logx.Err(derr))
	}
	if err := s.store.UpdateTask(ctx, t.ID, domain.TaskUpdate{Notified: domain.Ptr(true)}); err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	s.publish(eventbus.TypeReminderSent, t, id, derr)
	s.log.Debug("reminder sent", logx.Task(t.ChatID, t.ID), logx.Int("msg", id))
	return nil
}

// alert sends the due alert as a new message and pins it. The flag
// advances even when delivery fails.
func (s *Service) alert(ctx context.Context, t domain.Task, offset int, assignees []string) error {
	id, derr := s.msgs.Send(ctx, t.ChatID, t.ID, views.DueAlert(t, offset, assignees))
	if derr != nil {
		s.log.Warn("due alert delivery failed", logx.Task(t.ChatID, t.ID), logx.Err(derr))
	} else if err := s.msgs.Pin(ctx, t.ChatID, t.ID, id); err != nil {
		s.log.Warn("pin due alert failed", logx.Task(t.ChatID, t.ID), logx.Err(err))
	}
	if err := s.store.UpdateTask(ctx, t.ID, domain.TaskUpdate{MainNotified: domain.Ptr(true)}); err != nil {
		return fmt.Errorf("mark alerted: %w", err)
	}
	s.publish(eventbus.TypeDueAlerted, t, id, derr)
	s.log.Debug("due alert sent", logx.Task(t.ChatID, t.ID), logx.Int("msg", id))
	return nil
}

func (s *Service) publish(typ string, t domain.Task, msgID int, err error) {
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Time: s.now(),
		Data: eventbus.TaskEvent{TaskID: t.ID, ChatID: t.ChatID, MessageID: msgID, Err: err},
	})
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
