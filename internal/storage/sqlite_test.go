package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskbot/internal/domain"
	logx "taskbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// deactivate clears the active column; no store operation writes it.
func deactivate(t *testing.T, st Store, id int64) {
	t.Helper()
	if _, err := st.(*sqliteStore).db.Exec(`UPDATE tasks SET active=0 WHERE id=?`, id); err != nil {
		t.Fatalf("deactivate %d: %v", id, err)
	}
}

var base = time.Date(2025, 7, 25, 10, 30, 0, 0, time.UTC)

func mustCreate(t *testing.T, st Store, task domain.Task) int64 {
	t.Helper()
	id, err := st.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return id
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestTaskCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	id := mustCreate(t, st, domain.Task{ChatID: -100, CreatorID: 7, Text: "deploy", Due: base, ReminderMinutes: 30})
	got, err := st.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Text != "deploy" || !got.Due.Equal(base) || got.ReminderMinutes != 30 || !got.Active || got.CreatorID != 7 {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.Notified || got.MainNotified || got.Confirmed {
		t.Fatalf("fresh task has flags set: %+v", got)
	}

	newDue := base.Add(time.Hour)
	if err := st.UpdateTask(ctx, id, domain.TaskUpdate{Due: &newDue, MainNotified: domain.Ptr(true)}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	got, _ = st.GetTask(ctx, id)
	if !got.Due.Equal(newDue) || !got.MainNotified || got.Text != "deploy" {
		t.Fatalf("partial update wrong: %+v", got)
	}

	if err := st.UpdateTask(ctx, 999, domain.TaskUpdate{Notified: domain.Ptr(true)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: err = %v", err)
	}
	if err := st.UpdateTask(ctx, 999, domain.TaskUpdate{}); err != nil {
		t.Fatalf("empty update should be a no-op: %v", err)
	}

	if err := st.DeleteTask(ctx, id); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := st.GetTask(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask after delete: err = %v", err)
	}
	if err := st.DeleteTask(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: err = %v", err)
	}
}

func TestListChatTasksWindowAndOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	now := base

	late := mustCreate(t, st, domain.Task{ChatID: 1, Text: "late", Due: now.Add(48 * time.Hour)})
	early := mustCreate(t, st, domain.Task{ChatID: 1, Text: "early", Due: now.Add(time.Hour)})
	recent := mustCreate(t, st, domain.Task{ChatID: 1, Text: "recent", Due: now.Add(-23 * time.Hour)})
	mustCreate(t, st, domain.Task{ChatID: 1, Text: "stale", Due: now.Add(-25 * time.Hour)})
	mustCreate(t, st, domain.Task{ChatID: 2, Text: "other chat", Due: now.Add(time.Hour)})
	hidden := mustCreate(t, st, domain.Task{ChatID: 1, Text: "inactive", Due: now.Add(time.Hour)})
	deactivate(t, st, hidden)

	tasks, err := st.ListChatTasks(ctx, 1, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListChatTasks: %v", err)
	}
	want := []int64{recent, early, late}
	if len(tasks) != len(want) {
		t.Fatalf("got %d tasks, want %d: %+v", len(tasks), len(want), tasks)
	}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("tasks[%d] = %d, want %d", i, tasks[i].ID, id)
		}
	}
}

func TestListActiveTasksJoinsTimezone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	a := mustCreate(t, st, domain.Task{ChatID: 1, Text: "a", Due: base})
	b := mustCreate(t, st, domain.Task{ChatID: 2, Text: "b", Due: base})
	c := mustCreate(t, st, domain.Task{ChatID: 2, Text: "c", Due: base})
	deactivate(t, st, c)
	if err := st.SetGroupTimezone(ctx, domain.GroupTimezone{ChatID: 2, Zone: "custom", CustomName: "Tbilisi", CustomOffset: domain.Ptr(4)}); err != nil {
		t.Fatal(err)
	}

	tasks, err := st.ListActiveTasks(ctx)
	if err != nil {
		t.Fatalf("ListActiveTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].ID != a || tasks[0].Timezone != nil {
		t.Fatalf("task a: %+v", tasks[0])
	}
	tz := tasks[1].Timezone
	if tasks[1].ID != b || tz == nil || tz.Zone != "custom" || tz.CustomName != "Tbilisi" || tz.CustomOffset == nil || *tz.CustomOffset != 4 {
		t.Fatalf("task b: %+v tz=%+v", tasks[1], tz)
	}
}

func TestArchiveConfirmedOnlyRemovesConfirmed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	cutoff := base

	old := mustCreate(t, st, domain.Task{ChatID: 1, Text: "old confirmed", Due: cutoff.Add(-time.Minute), Confirmed: true})
	keepUnconfirmed := mustCreate(t, st, domain.Task{ChatID: 1, Text: "old open", Due: cutoff.Add(-time.Minute)})
	keepRecent := mustCreate(t, st, domain.Task{ChatID: 1, Text: "recent confirmed", Due: cutoff.Add(time.Minute), Confirmed: true})

	archived, err := st.ArchiveConfirmed(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchiveConfirmed: %v", err)
	}
	if len(archived) != 1 || archived[0].ID != old {
		t.Fatalf("archived = %+v", archived)
	}
	for _, id := range []int64{keepUnconfirmed, keepRecent} {
		if _, err := st.GetTask(ctx, id); err != nil {
			t.Fatalf("task %d should survive: %v", id, err)
		}
	}
	if again, err := st.ArchiveConfirmed(ctx, cutoff); err != nil || len(again) != 0 {
		t.Fatalf("second sweep = %+v, %v", again, err)
	}
}

func TestAssigneesCascade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	id := mustCreate(t, st, domain.Task{ChatID: 1, Text: "x", Due: base})

	for _, h := range []string{"@ann", "@bob", "@ann"} {
		if err := st.AddAssignee(ctx, id, h); err != nil {
			t.Fatalf("AddAssignee(%s): %v", h, err)
		}
	}
	got, err := st.ListAssignees(ctx, id)
	if err != nil || len(got) != 2 || got[0] != "@ann" || got[1] != "@bob" {
		t.Fatalf("assignees = %v, %v", got, err)
	}

	if err := st.AddAssignee(ctx, 424242, "@ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("assignee on missing task: err = %v", err)
	}

	if err := st.DeleteTask(ctx, id); err != nil {
		t.Fatal(err)
	}
	// Rows of the deleted task cascade away.
	got, _ = st.ListAssignees(ctx, id)
	if len(got) != 0 {
		t.Fatalf("assignees survived delete: %v", got)
	}

	other := mustCreate(t, st, domain.Task{ChatID: 1, Text: "y", Due: base})
	_ = st.AddAssignee(ctx, other, "@cy")
	if n, err := st.DeleteChatTasks(ctx, 1); err != nil || n != 1 {
		t.Fatalf("DeleteChatTasks = %d, %v", n, err)
	}
	if got, _ := st.ListAssignees(ctx, other); len(got) != 0 {
		t.Fatalf("assignees survived chat delete: %v", got)
	}
}

func TestGroupTimezone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	tz, err := st.GetGroupTimezone(ctx, 5)
	if err != nil || tz != nil {
		t.Fatalf("unset timezone = %+v, %v", tz, err)
	}
	if err := st.SetGroupTimezone(ctx, domain.GroupTimezone{ChatID: 5, Zone: "novosib"}); err != nil {
		t.Fatal(err)
	}
	tz, _ = st.GetGroupTimezone(ctx, 5)
	if tz == nil || tz.Zone != "novosib" || tz.CustomOffset != nil || tz.CustomName != "" {
		t.Fatalf("preset timezone = %+v", tz)
	}
	if err := st.SetGroupTimezone(ctx, domain.GroupTimezone{ChatID: 5, Zone: "custom", CustomName: "UTC", CustomOffset: domain.Ptr(0)}); err != nil {
		t.Fatal(err)
	}
	tz, _ = st.GetGroupTimezone(ctx, 5)
	if tz == nil || tz.CustomOffset == nil || *tz.CustomOffset != 0 || tz.CustomName != "UTC" {
		t.Fatalf("custom timezone = %+v", tz)
	}
}

func TestTrackedMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	for _, m := range []domain.TrackedMessage{
		{ChatID: 1, MessageID: 10},
		{ChatID: 1, MessageID: 11, TaskID: 3},
		{ChatID: 1, MessageID: 12, TaskID: 4},
		{ChatID: 2, MessageID: 13, TaskID: 3},
	} {
		if err := st.AddTracked(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := st.ListTracked(ctx, 1, 0)
	if len(all) != 3 {
		t.Fatalf("chat messages = %d, want 3", len(all))
	}
	forTask, _ := st.ListTracked(ctx, 1, 3)
	if len(forTask) != 1 || forTask[0].MessageID != 11 {
		t.Fatalf("task messages = %+v", forTask)
	}

	if err := st.DeleteTracked(ctx, 1, 11); err != nil {
		t.Fatal(err)
	}
	forTask, _ = st.ListTracked(ctx, 1, 3)
	if len(forTask) != 0 {
		t.Fatalf("message 11 should be gone: %+v", forTask)
	}
}

func TestPinnedMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.GetPinned(ctx, 1, 3); ok || err != nil {
		t.Fatalf("unexpected pinned record: %v %v", ok, err)
	}
	_ = st.SetPinned(ctx, domain.PinnedMessage{ChatID: 1, TaskID: 3, MessageID: 100})
	_ = st.SetPinned(ctx, domain.PinnedMessage{ChatID: 1, TaskID: 3, MessageID: 101})

	p, ok, err := st.GetPinned(ctx, 1, 3)
	if err != nil || !ok || p.MessageID != 101 {
		t.Fatalf("pinned = %+v %v %v", p, ok, err)
	}
	if err := st.DeletePinned(ctx, 1, 3); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.GetPinned(ctx, 1, 3); ok {
		t.Fatal("pinned record survived delete")
	}
}
