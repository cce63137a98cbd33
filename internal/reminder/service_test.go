package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"taskbot/internal/domain"
	"taskbot/internal/eventbus"
	"taskbot/internal/messages"
	"taskbot/internal/storage"
	"taskbot/internal/transport/transporttest"
	logx "taskbot/pkg/logx"
)

const chat = int64(-100)

var due = time.Date(2025, 7, 25, 10, 30, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store storage.Store
	msgr  *transporttest.Messenger
	clock *clock
	bus   eventbus.Bus
}

func newFixture(t *testing.T, wrap func(storage.Store) Store) fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "reminder.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	m := transporttest.NewMessenger()
	coord := messages.New(m, st, logx.Nop(), messages.WithRetirePace(0))
	clk := &clock{t: due.Add(-24 * time.Hour)}
	bus := eventbus.New()

	var store Store = st
	if wrap != nil {
		store = wrap(st)
	}
	svc := New(Config{Enabled: true}, store, coord, logx.Nop(), WithBus(bus), WithClock(clk.Now))
	return fixture{svc: svc, store: st, msgr: m, clock: clk, bus: bus}
}

func (f fixture) create(t *testing.T, task domain.Task) domain.Task {
	t.Helper()
	task.ChatID = chat
	task.Active = true
	id, err := f.store.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	task.ID = id
	return task
}

func (f fixture) tickAt(at time.Time) {
	f.clock.Set(at)
	f.svc.Tick(context.Background())
}

func (f fixture) task(t *testing.T, id int64) domain.Task {
	t.Helper()
	got, err := f.store.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return got
}

func TestReminderFiresOnceAtLeadTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	task := f.create(t, domain.Task{Text: "Standup", Due: due, ReminderMinutes: 60})

	f.tickAt(due.Add(-61 * time.Minute))
	if n := len(f.msgr.Sent()); n != 0 {
		t.Fatalf("sent %d messages before the lead time", n)
	}

	f.tickAt(due.Add(-60 * time.Minute))
	sent := f.msgr.Sent()
	if len(sent) != 1 || !strings.Contains(sent[0].Content.Text, "Напоминание за 60 мин") {
		t.Fatalf("sent = %+v", sent)
	}
	if got := f.task(t, task.ID); !got.Notified || got.MainNotified {
		t.Fatalf("flags after reminder = %+v", got)
	}

	f.tickAt(due.Add(-30 * time.Minute))
	if n := len(f.msgr.Sent()); n != 1 {
		t.Fatalf("reminder sent %d times", n)
	}
}

func TestDueAlertIsPinnedOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	task := f.create(t, domain.Task{Text: "Deploy", Due: due})

	f.tickAt(due.Add(-time.Second))
	if n := len(f.msgr.Sent()); n != 0 {
		t.Fatalf("alert sent early (%d)", n)
	}

	f.tickAt(due.Add(time.Second))
	f.tickAt(due.Add(11 * time.Second))

	sent := f.msgr.Sent()
	if len(sent) != 1 || !strings.Contains(sent[0].Content.Text, "Время выполнять!") {
		t.Fatalf("sent = %+v", sent)
	}
	alert := sent[0].MessageID
	if !f.msgr.Pinned(chat, alert) {
		t.Fatal("due alert should be pinned")
	}
	p, ok, err := f.store.GetPinned(ctx, chat, task.ID)
	if err != nil || !ok || p.MessageID != alert {
		t.Fatalf("pinned record = %+v, %v, %v", p, ok, err)
	}
	tracked, _ := f.store.ListTracked(ctx, chat, task.ID)
	if len(tracked) != 1 || tracked[0].MessageID != alert {
		t.Fatalf("tracked = %+v", tracked)
	}
	if got := f.task(t, task.ID); !got.MainNotified || got.Notified {
		t.Fatalf("flags = %+v", got)
	}
}

func TestReminderUsesChatOffset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	if err := f.store.SetGroupTimezone(ctx, domain.GroupTimezone{ChatID: chat, Zone: "ekb"}); err != nil {
		t.Fatal(err)
	}
	task := f.create(t, domain.Task{Text: "Call", Due: due, ReminderMinutes: 30})
	if err := f.store.AddAssignee(ctx, task.ID, "@alice"); err != nil {
		t.Fatal(err)
	}

	f.tickAt(due.Add(-30 * time.Minute))
	last, ok := f.msgr.Last()
	if !ok {
		t.Fatal("no reminder sent")
	}
	for _, want := range []string{"25.07.2025 15:30", "@alice", "Напоминание за 30 мин"} {
		if !strings.Contains(last.Content.Text, want) {
			t.Fatalf("reminder missing %q:\n%s", want, last.Content.Text)
		}
	}
}

func TestBothFireInOneTick(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	task := f.create(t, domain.Task{Text: "Late", Due: due, ReminderMinutes: 60})

	f.tickAt(due.Add(time.Minute))

	sent := f.msgr.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want reminder and alert", len(sent))
	}
	if !strings.Contains(sent[0].Content.Text, "Напоминание") || !strings.Contains(sent[1].Content.Text, "Время выполнять") {
		t.Fatalf("order = %q, %q", sent[0].Content.Text, sent[1].Content.Text)
	}
	// The alert is a new message and does not supersede the reminder.
	if !f.msgr.Live(sent[0].MessageID) {
		t.Fatal("reminder should stay when the alert is sent")
	}
	if got := f.task(t, task.ID); !got.Notified || !got.MainNotified {
		t.Fatalf("flags = %+v", got)
	}
}

func TestFailedDeliveryStillAdvancesFlags(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	f.msgr.FailSend = true
	task := f.create(t, domain.Task{Text: "Unreachable", Due: due, ReminderMinutes: 10})
	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	f.tickAt(due)

	got := f.task(t, task.ID)
	if !got.Notified || !got.MainNotified {
		t.Fatalf("flags = %+v", got)
	}
	if _, ok, _ := f.store.GetPinned(ctx, chat, task.ID); ok {
		t.Fatal("no pinned record without a delivered alert")
	}
	for _, want := range []string{eventbus.TypeReminderSent, eventbus.TypeDueAlerted} {
		ev := <-events
		te, _ := ev.Data.(eventbus.TaskEvent)
		if ev.Type != want || !errors.Is(te.Err, messages.ErrDelivery) {
			t.Fatalf("event = %q %+v, want %q with delivery error", ev.Type, te, want)
		}
	}

	// Never retried.
	f.msgr.FailSend = false
	f.tickAt(due.Add(time.Minute))
	if n := len(f.msgr.Sent()); n != 0 {
		t.Fatalf("sent %d after failure, want none", n)
	}
}

func TestPinFailureKeepsRecordAndFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	f.msgr.FailPin = true
	task := f.create(t, domain.Task{Text: "No rights", Due: due})

	f.tickAt(due)

	if _, ok, _ := f.store.GetPinned(ctx, chat, task.ID); !ok {
		t.Fatal("pinned record should be written for a delivered alert")
	}
	if got := f.task(t, task.ID); !got.MainNotified {
		t.Fatalf("flags = %+v", got)
	}
}

func TestArchivalSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	done := f.create(t, domain.Task{Text: "Done", Due: due, Confirmed: true, MainNotified: true})
	open := f.create(t, domain.Task{Text: "Open", Due: due, MainNotified: true})
	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	f.tickAt(due.Add(24 * time.Hour))
	if _, err := f.store.GetTask(ctx, done.ID); err != nil {
		t.Fatalf("task archived too early: %v", err)
	}

	f.tickAt(due.Add(24*time.Hour + time.Second))
	if _, err := f.store.GetTask(ctx, done.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("confirmed task should be archived, err = %v", err)
	}
	if _, err := f.store.GetTask(ctx, open.ID); err != nil {
		t.Fatalf("unconfirmed task must stay: %v", err)
	}
	ev := <-events
	if te, _ := ev.Data.(eventbus.TaskEvent); ev.Type != eventbus.TypeArchived || te.TaskID != done.ID {
		t.Fatalf("event = %+v", ev)
	}
}

func TestConfirmedTaskStillGetsDueAlert(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	task := f.create(t, domain.Task{Text: "Early ack", Due: due, ReminderMinutes: 30, Notified: true, Confirmed: true})

	f.tickAt(due)
	if n := len(f.msgr.Sent()); n != 1 {
		t.Fatalf("sent %d, want the due alert", n)
	}
	if got := f.task(t, task.ID); !got.MainNotified {
		t.Fatalf("flags = %+v", got)
	}
}

type panickyStore struct {
	storage.Store
	bad int64
}

func (p panickyStore) ListAssignees(ctx context.Context, taskID int64) ([]string, error) {
	if taskID == p.bad {
		panic("corrupt row")
	}
	return p.Store.ListAssignees(ctx, taskID)
}

func TestBrokenTaskDoesNotStopThePass(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(st storage.Store) Store { return panickyStore{Store: st, bad: 1} })
	bad := f.create(t, domain.Task{Text: "Broken", Due: due})
	good := f.create(t, domain.Task{Text: "Fine", Due: due})
	if bad.ID != 1 {
		t.Fatalf("unexpected id %d", bad.ID)
	}

	f.tickAt(due)

	if got := f.task(t, good.ID); !got.MainNotified {
		t.Fatal("second task should be processed after the first one panicked")
	}
	if got := f.task(t, bad.ID); got.MainNotified {
		t.Fatal("panicking task must not be flagged")
	}
}

func TestOnTickHook(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	var n int
	f.svc.OnTick(func() { n++ })
	f.tickAt(due)
	f.tickAt(due)
	if n != 2 {
		t.Fatalf("hook ran %d times", n)
	}
}

func TestStartRunsPassesUntilStopped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.svc.Apply(Config{Enabled: true, Interval: time.Second})
	ticks := make(chan struct{}, 4)
	f.svc.OnTick(func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.Start(ctx)

	select {
	case <-ticks:
	case <-time.After(5 * time.Second):
		t.Fatal("no pass within 5s")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := f.svc.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.svc.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.svc.Apply(Config{Enabled: false})
	f.svc.Start(context.Background())
	if err := f.svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.svc.Enabled() {
		t.Fatal("Enabled() should reflect the applied config")
	}
}

// gatedStore holds every pass inside ListActiveTasks until gate is closed.
type gatedStore struct {
	Store
	entered chan struct{}
	gate    chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *gatedStore) ListActiveTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.gate
	return g.Store.ListActiveTasks(ctx)
}

func (g *gatedStore) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestStopWaitsForRestartingApply(t *testing.T) {
	t.Parallel()
	gs := &gatedStore{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	f := newFixture(t, func(st storage.Store) Store {
		gs.Store = st
		return gs
	})
	f.svc.Apply(Config{Enabled: true, Interval: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.Start(ctx)

	select {
	case <-gs.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("no pass within 5s")
	}

	// the interval change restarts the scheduler once the pass is done
	go f.svc.Apply(Config{Enabled: true, Interval: 2 * time.Second})
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		stopped <- f.svc.Stop(stopCtx)
	}()

	select {
	case err := <-stopped:
		t.Fatalf("Stop returned %v while a pass was in flight", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(gs.gate)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}

	time.Sleep(2500 * time.Millisecond)
	if n := gs.count(); n != 1 {
		t.Fatalf("passes = %d, want only the one in flight before Stop", n)
	}
}

func TestNoPassesAfterStopOrCancel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		start func(t *testing.T, f fixture)
	}{
		{"cancelled ctx", func(_ *testing.T, f fixture) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			f.svc.Start(ctx)
			f.svc.Apply(Config{Enabled: true, Interval: 2 * time.Second})
		}},
		{"after stop", func(t *testing.T, f fixture) {
			if err := f.svc.Stop(context.Background()); err != nil {
				t.Errorf("Stop: %v", err)
			}
			f.svc.Start(context.Background())
			f.svc.Apply(Config{Enabled: true, Interval: 2 * time.Second})
		}},
		{"apply after stop", func(t *testing.T, f fixture) {
			f.svc.Start(context.Background())
			if err := f.svc.Stop(context.Background()); err != nil {
				t.Errorf("Stop: %v", err)
			}
			f.svc.Apply(Config{Enabled: true, Interval: 2 * time.Second})
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			f.svc.Apply(Config{Enabled: true, Interval: time.Second})
			var mu sync.Mutex
			n := 0
			f.svc.OnTick(func() {
				mu.Lock()
				n++
				mu.Unlock()
			})

			tt.start(t, f)
			time.Sleep(2500 * time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			if n != 0 {
				t.Fatalf("%d passes ran", n)
			}
		})
	}
}
