package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskbot/internal/datetime"
	"taskbot/internal/domain"
	"taskbot/internal/eventbus"
	"taskbot/internal/messages"
	"taskbot/internal/storage"
	"taskbot/internal/timezone"
	kit "taskbot/internal/transport"
	"taskbot/internal/transport/transporttest"
	logx "taskbot/pkg/logx"
)

const chat = int64(-100)

var now = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	msgs  *messages.Coordinator
	msgr  *transporttest.Messenger
	store storage.Store
	bus   eventbus.Bus
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	m := transporttest.NewMessenger()
	c := messages.New(m, st, logx.Nop(), messages.WithRetirePace(0))
	bus := eventbus.New()
	svc := New(st, c, logx.Nop(), WithBus(bus), WithClock(func() time.Time { return now }))
	return fixture{svc: svc, msgs: c, msgr: m, store: st, bus: bus}
}

func (f fixture) create(t *testing.T, line string) domain.Task {
	t.Helper()
	task, err := f.svc.CreateFromLine(context.Background(), chat, 1, line)
	if err != nil {
		t.Fatalf("CreateFromLine(%q): %v", line, err)
	}
	return task
}

func TestCreateFromLineSplitsOnLastComma(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	task := f.create(t, "Haircut, then shave, 25.07.2025 15:30")
	if task.Text != "Haircut, then shave" {
		t.Fatalf("Text = %q", task.Text)
	}
	// No timezone configured: +3.
	want := time.Date(2025, 7, 25, 12, 30, 0, 0, time.UTC)
	if !task.Due.Equal(want) {
		t.Fatalf("Due = %v, want %v", task.Due, want)
	}
	stored, err := f.store.GetTask(context.Background(), task.ID)
	if err != nil || !stored.Due.Equal(want) || stored.CreatorID != 1 {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestCreateUsesChatTimezone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.svc.SetZone(ctx, chat, timezone.Ekb); err != nil {
		t.Fatal(err)
	}
	task := f.create(t, "Standup, 25.07.2025 15:30")
	if want := time.Date(2025, 7, 25, 10, 30, 0, 0, time.UTC); !task.Due.Equal(want) {
		t.Fatalf("Due = %v, want %v", task.Due, want)
	}
}

func TestCreateErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tests := []struct {
		line string
		want error
	}{
		{line: "no separator 25.07.2025 15:30", want: ErrMissingComma},
		{line: " , 25.07.2025 15:30", want: ErrEmptyText},
		{line: "Old, 01.06.2025 10:00", want: datetime.ErrPastDate},
		{line: "Bad, 32.07.2025 10:00", want: datetime.ErrInvalidFormat},
	}
	for _, tt := range tests {
		if _, err := f.svc.CreateFromLine(context.Background(), chat, 1, tt.line); !errors.Is(err, tt.want) {
			t.Fatalf("CreateFromLine(%q) err = %v, want %v", tt.line, err, tt.want)
		}
	}
}

func TestRescheduleResetsReminderAndConfirmationOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	task := f.create(t, "Report, 02.07.2025 10:00")

	all := domain.TaskUpdate{Notified: domain.Ptr(true), MainNotified: domain.Ptr(true), Confirmed: domain.Ptr(true)}
	if err := f.store.UpdateTask(ctx, task.ID, all); err != nil {
		t.Fatal(err)
	}
	stale, _ := f.msgs.Send(ctx, chat, task.ID, kit.Content{Text: "reminder"})
	events, unsub := f.bus.Subscribe(4)
	defer unsub()

	got, err := f.svc.Reschedule(ctx, chat, task.ID, "03.07.2025 10:00")
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	stored, _ := f.store.GetTask(ctx, task.ID)
	for _, tk := range []domain.Task{got, stored} {
		if tk.Notified || tk.Confirmed || !tk.MainNotified {
			t.Fatalf("flags after reschedule = %+v", tk)
		}
		if want := time.Date(2025, 7, 3, 7, 0, 0, 0, time.UTC); !tk.Due.Equal(want) {
			t.Fatalf("Due = %v, want %v", tk.Due, want)
		}
	}
	if f.msgr.Live(stale) {
		t.Fatal("tracked message of the task should be retired")
	}
	if ev := <-events; ev.Type != eventbus.TypeRescheduled {
		t.Fatalf("event = %q", ev.Type)
	}
}

func TestRescheduleRejectsForeignChatAndBadInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	task := f.create(t, "Report, 02.07.2025 10:00")

	if _, err := f.svc.Reschedule(ctx, chat+1, task.ID, "03.07.2025 10:00"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign chat err = %v", err)
	}
	if _, err := f.svc.Reschedule(ctx, chat, task.ID, "yesterday"); !errors.Is(err, datetime.ErrInvalidFormat) {
		t.Fatalf("bad input err = %v", err)
	}
	if _, err := f.svc.Reschedule(ctx, chat, 9999, "03.07.2025 10:00"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing task err = %v", err)
	}
}

func TestConfirmDismissesPinnedAlert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	task := f.create(t, "Deploy, 02.07.2025 10:00")

	alert, _ := f.msgs.Send(ctx, chat, task.ID, kit.Content{Text: "due"})
	if err := f.msgs.Pin(ctx, chat, task.ID, alert); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Confirm(ctx, chat, task.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if f.msgr.Live(alert) || f.msgr.Pinned(chat, alert) {
		t.Fatal("pinned alert should be unpinned and deleted")
	}
	if _, ok, _ := f.store.GetPinned(ctx, chat, task.ID); ok {
		t.Fatal("pinned record should be gone")
	}
	stored, err := f.store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("confirmed task must still exist: %v", err)
	}
	if !stored.Confirmed || !stored.Active {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestDeleteUnpinsButKeepsMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	task := f.create(t, "Deploy, 02.07.2025 10:00")
	if _, err := f.svc.AddAssignee(ctx, chat, task.ID, "@alice"); err != nil {
		t.Fatal(err)
	}
	alert, _ := f.msgs.Send(ctx, chat, task.ID, kit.Content{Text: "due"})
	_ = f.msgs.Pin(ctx, chat, task.ID, alert)

	if err := f.svc.Delete(ctx, chat, task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.msgr.Pinned(chat, alert) || !f.msgr.Live(alert) {
		t.Fatal("alert should be unpinned and kept")
	}
	if _, ok, _ := f.store.GetPinned(ctx, chat, task.ID); ok {
		t.Fatal("pinned record should be gone")
	}
	if _, err := f.store.GetTask(ctx, task.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetTask after delete err = %v", err)
	}
	if as, _ := f.store.ListAssignees(ctx, task.ID); len(as) != 0 {
		t.Fatalf("assignees should cascade, got %v", as)
	}
	if err := f.svc.Delete(ctx, chat, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestDeleteAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A, 02.07.2025 10:00")
	f.create(t, "B, 03.07.2025 10:00")
	alert, _ := f.msgs.Send(ctx, chat, a.ID, kit.Content{Text: "due"})
	_ = f.msgs.Pin(ctx, chat, a.ID, alert)

	n, err := f.svc.DeleteAll(ctx, chat)
	if err != nil || n != 2 {
		t.Fatalf("DeleteAll = %d, %v", n, err)
	}
	if f.msgr.Pinned(chat, alert) {
		t.Fatal("pinned alert should be unpinned")
	}
	l, _ := f.svc.List(ctx, chat)
	if len(l.Items) != 0 {
		t.Fatalf("items left: %d", len(l.Items))
	}
}

func TestSetReminder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	task := f.create(t, "A, 02.07.2025 10:00")

	for _, m := range ReminderPresets {
		if err := f.svc.SetReminder(ctx, chat, task.ID, m); err != nil {
			t.Fatalf("SetReminder(%d): %v", m, err)
		}
	}
	if err := f.svc.SetReminder(ctx, chat, task.ID, 7); !errors.Is(err, ErrInvalidReminder) {
		t.Fatalf("SetReminder(7) err = %v", err)
	}
	_ = f.svc.SetReminder(ctx, chat, task.ID, 60)
	stored, _ := f.store.GetTask(ctx, task.ID)
	if stored.ReminderMinutes != 60 {
		t.Fatalf("ReminderMinutes = %d", stored.ReminderMinutes)
	}
}

func TestAddAssignee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	task := f.create(t, "A, 02.07.2025 10:00")

	for _, bad := range []string{"alice", "@", "@a b", ""} {
		if _, err := f.svc.AddAssignee(ctx, chat, task.ID, bad); !errors.Is(err, ErrInvalidAssignee) {
			t.Fatalf("AddAssignee(%q) err = %v", bad, err)
		}
	}
	_, _ = f.svc.AddAssignee(ctx, chat, task.ID, " @alice ")
	got, err := f.svc.AddAssignee(ctx, chat, task.ID, "@bob")
	if err != nil || len(got) != 2 {
		t.Fatalf("AddAssignee = %v, %v", got, err)
	}
}

func TestEditText(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	task := f.create(t, "A, 02.07.2025 10:00")

	if _, err := f.svc.EditText(ctx, chat, task.ID, "  "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("empty err = %v", err)
	}
	if _, err := f.svc.EditText(ctx, chat, task.ID, "A"); !errors.Is(err, ErrSameText) {
		t.Fatalf("same err = %v", err)
	}
	got, err := f.svc.EditText(ctx, chat, task.ID, "B")
	if err != nil || got.Text != "B" {
		t.Fatalf("EditText = %+v, %v", got, err)
	}
}

func TestListWindowOrderAndBadges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	far := f.create(t, "Far, 10.07.2025 10:00")
	soon := f.create(t, "Soon, 02.07.2025 10:00")
	// Insert past tasks directly: one inside the 24h grace window, one outside.
	overdue, _ := f.store.CreateTask(ctx, domain.Task{ChatID: chat, Text: "Overdue", Due: now.Add(-time.Hour)})
	_, _ = f.store.CreateTask(ctx, domain.Task{ChatID: chat, Text: "Gone", Due: now.Add(-25 * time.Hour)})

	l, err := f.svc.List(ctx, chat)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if l.Zone.Offset != 5 {
		t.Fatalf("listing zone = %+v, want +5 default", l.Zone)
	}
	wantIDs := []int64{overdue, soon.ID, far.ID}
	wantBadges := []Badge{BadgeOverdue, BadgeSoon, BadgeActive}
	if len(l.Items) != len(wantIDs) {
		t.Fatalf("items = %d, want %d", len(l.Items), len(wantIDs))
	}
	for i, it := range l.Items {
		if it.ID != wantIDs[i] || it.Badge != wantBadges[i] {
			t.Fatalf("item %d = id %d badge %d", i, it.ID, it.Badge)
		}
	}
}

func TestViewUsesTaskZone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	task := f.create(t, "A, 02.07.2025 10:00")
	_, _ = f.svc.AddAssignee(ctx, chat, task.ID, "@alice")

	card, err := f.svc.View(ctx, chat, task.ID)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if card.Zone.Offset != 3 || len(card.Assignees) != 1 {
		t.Fatalf("card = %+v", card)
	}
	if _, err := f.svc.View(ctx, chat+1, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign view err = %v", err)
	}
}

func TestSetCustomZone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	// 12:00 UTC now; the user says it is 19 o'clock locally.
	got, err := f.svc.SetCustomZone(ctx, chat, "Krasnoyarsk", 19)
	if err != nil {
		t.Fatalf("SetCustomZone: %v", err)
	}
	if got.Offset != 7 || got.Name != "Krasnoyarsk" {
		t.Fatalf("resolved = %+v", got)
	}
	if _, err := f.svc.SetCustomZone(ctx, chat, "X", 24); !errors.Is(err, timezone.ErrInvalidHour) {
		t.Fatalf("hour 24 err = %v", err)
	}
	if _, err := f.svc.SetZone(ctx, chat, "mars"); !errors.Is(err, ErrUnknownZone) {
		t.Fatalf("unknown zone err = %v", err)
	}
	l, _ := f.svc.List(ctx, chat)
	if l.Zone.Offset != 7 {
		t.Fatalf("listing should use the custom offset, got %+v", l.Zone)
	}
}

func TestParseDueDoesNotStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	at, err := f.svc.ParseDue(ctx, chat, "25.07.2025 15:30")
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2025, 7, 25, 12, 30, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("ParseDue = %v, want %v", at, want)
	}
	if _, err := f.svc.ParseDue(ctx, chat, "01.01.2020 10:00"); !errors.Is(err, datetime.ErrPastDate) {
		t.Fatalf("past date err = %v", err)
	}
	list, _ := f.svc.List(ctx, chat)
	if len(list.Items) != 0 {
		t.Fatalf("ParseDue stored %d tasks", len(list.Items))
	}
}
