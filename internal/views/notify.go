package views

import (
	"fmt"
	"strings"

	"taskbot/internal/datetime"
	"taskbot/internal/domain"
	kit "taskbot/internal/transport"
	"taskbot/pkg/tgui"
)

// Reminder renders the advance reminder of a task.
func Reminder(t domain.Task, offset int, assignees []string) kit.Content {
	return tgui.New().
		Title("⏰", fmt.Sprintf("Напоминание за %d мин", t.ReminderMinutes)).
		RawLine(notifyBody(t, "Время", offset, assignees)).
		Inline(ConfirmKeyboard(t.ID)).
		Build()
}

// DueAlert renders the alert sent when a task falls due.
func DueAlert(t domain.Task, offset int, assignees []string) kit.Content {
	return tgui.New().
		Title("🔔", "Время выполнять!").
		RawLine(notifyBody(t, "Назначенное время", offset, assignees)).
		Inline(ConfirmKeyboard(t.ID)).
		Build()
}

func notifyBody(t domain.Task, timeLabel string, offset int, assignees []string) tgui.H {
	who := tgui.Raw("Нет")
	if len(assignees) > 0 {
		parts := make([]tgui.H, 0, len(assignees))
		for _, a := range assignees {
			parts = append(parts, tgui.Esc(a))
		}
		who = tgui.JoinH(" ", parts...)
	}
	return tgui.JoinH("\n",
		"📌 "+tgui.B("Задача:")+" "+tgui.Esc(t.Text),
		"🕒 "+tgui.B(timeLabel+":")+" "+tgui.Esc(datetime.Format(t.Due, offset)),
		"👥 "+tgui.B("Исполнители:")+" "+who,
	)
}

// ConfirmKeyboard carries the single "I remember" button.
func ConfirmKeyboard(taskID int64) kit.Keyboard {
	return tgui.NewInline().
		Row(tgui.Btn("✅ Я помню", tgui.DataID(ScopeTask, ActConfirm, taskID))).
		Keyboard()
}

// ReminderLabel renders a lead time as "2 ч 0 мин" or "30 мин".
func ReminderLabel(minutes int) string {
	if h := minutes / 60; h > 0 {
		return fmt.Sprintf("%d ч %d мин", h, minutes%60)
	}
	return fmt.Sprintf("%d мин", minutes)
}

// Handles strips the leading '@' from assignee handles.
func Handles(assignees []string) string {
	out := make([]string, 0, len(assignees))
	for _, a := range assignees {
		out = append(out, strings.TrimPrefix(a, "@"))
	}
	return strings.Join(out, ", ")
}
