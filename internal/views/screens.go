package views

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskbot/internal/datetime"
	"taskbot/internal/tasks"
	"taskbot/internal/timezone"
	kit "taskbot/internal/transport"
	"taskbot/pkg/tgui"
)

// TasksPerPage is the page size of the task list.
const TasksPerPage = 2

// PrivateWelcome is shown when the bot is started in a private chat.
// botUsername enables the "add to group" link.
func PrivateWelcome(botUsername string) kit.Content {
	b := tgui.New().
		Line("👋 Привет! Я бот для управления задачами.").
		Blank().
		Line("📌 В группах я могу:").
		Line("- Создавать задачи с напоминаниями").
		Line("- Управлять списком задач").
		Line("- Отправлять уведомления о сроках").
		Blank().
		Line("⚙️ Для работы в группе мне нужны права:").
		Line("- Удаление сообщений").
		Line("- Закрепление сообщений").
		Blank().
		Line("Добавьте меня в группу и назначьте администратором!")
	if u := strings.TrimPrefix(strings.TrimSpace(botUsername), "@"); u != "" {
		b.Inline(tgui.NewInline().
			Row(tgui.URLBtn("➕ Добавить в группу", "https://t.me/"+u+"?startgroup=true")).
			Keyboard())
	}
	return b.Build()
}

// PermissionWarning is shown in a group where the bot is not an admin.
func PermissionWarning() kit.Content {
	return tgui.New().
		Line("⚠️ Мне нужны права администратора для работы!").
		Blank().
		Line("Пожалуйста, назначьте меня администратором с правами:").
		Line("- Удаление сообщений").
		Line("- Закрепление сообщений").
		Build()
}

// GroupMenu is the main menu of a group chat with a leading line of text.
func GroupMenu(text string) kit.Content {
	return tgui.New().Line(text).Inline(GroupMenuKeyboard()).Build()
}

func GroupMenuKeyboard() kit.Keyboard {
	return tgui.NewInline().
		Row(
			tgui.Btn("➕ Создать задачу", tgui.Data(ScopeMenu, ActCreate, "")),
			tgui.Btn("📋 Все задачи", tgui.Data(ScopeMenu, ActList, "")),
			tgui.Btn("🗑 Удалить всё", tgui.Data(ScopeMenu, ActDeleteAll, "")),
		).
		Keyboard()
}

// Notice is a plain message without a keyboard.
func Notice(text string) kit.Content {
	return tgui.New().Line(text).Build()
}

// NoticeWith is a plain message with a single button.
func NoticeWith(text, button, data string) kit.Content {
	return tgui.New().Line(text).Inline(single(button, data)).Build()
}

func single(text, data string) kit.Keyboard {
	return tgui.NewInline().Row(tgui.Btn(text, data)).Keyboard()
}

// CreatePrompt asks for a new task line.
func CreatePrompt() kit.Content {
	return tgui.New().
		Line("Введите задачу в формате: Текст, ДД.ММ.ГГГГ ЧЧ:ММ").
		Line("Например: Парикмахер, 20.07.2025 18:00").
		Build()
}

// DateError explains why a date was rejected and lists the accepted forms.
// prefix is put before each example ("Парикмахер, " for creation).
func DateError(reason, prefix, retryText, retryData string) kit.Content {
	b := tgui.New().
		Line("❌ Ошибка: " + reason).
		Blank().
		Line("Правильные форматы даты и времени:")
	for i, ex := range datetime.Examples {
		b.Line(fmt.Sprintf("%d. %s%s", i+1, prefix, ex))
	}
	return b.Blank().Line("Попробуйте еще раз:").Inline(single(retryText, retryData)).Build()
}

// Created confirms a new task and offers to add assignees.
func Created(t tasks.Card) kit.Content {
	return tgui.New().
		Line("✅ Задача создана!").
		Blank().
		Line("📌 Текст: " + t.Text).
		Line("🕒 Дата: " + datetime.Format(t.Due, t.Zone.Offset)).
		Blank().
		Line("Хотите добавить исполнителей к задаче?").
		Inline(tgui.NewInline().Row(
			tgui.Btn("✅ Да", tgui.DataID(ScopeAssignee, ActYes, t.ID)),
			tgui.Btn("❌ Нет", tgui.DataID(ScopeAssignee, ActNo, t.ID)),
		).Keyboard()).
		Build()
}

// AssigneePrompt asks for an @handle.
func AssigneePrompt() kit.Content {
	return Notice("Введите имя исполнителя через @ (например: @username)")
}

// AssigneeAdded lists the assignees after an addition.
func AssigneeAdded(taskID int64, added string, all []string) kit.Content {
	list := "Нет исполнителей"
	if len(all) > 0 {
		list = strings.Join(all, "\n")
	}
	return tgui.New().
		Line("✅ Исполнитель добавлен:").
		Line(added).
		Blank().
		Line("Текущие исполнители:").
		Line(list).
		Inline(tgui.NewInline().Row(
			tgui.Btn("✅ Продолжить", tgui.DataID(ScopeAssignee, ActDone, taskID)),
			tgui.Btn("➕ Добавить еще", tgui.DataID(ScopeAssignee, ActMore, taskID)),
		).Keyboard()).
		Build()
}

var reminderLabels = map[int]string{
	1440: "За сутки",
	360:  "За 6 часов",
	180:  "За 3 часа",
	120:  "За 2 часа",
	60:   "За 1 час",
	0:    "❌ Без напоминания",
}

// ReminderMenu offers the reminder lead times for a task.
func ReminderMenu(taskID int64, text string) kit.Content {
	btns := make([]kit.Button, 0, len(tasks.ReminderPresets))
	for _, m := range tasks.ReminderPresets {
		label, ok := reminderLabels[m]
		if !ok {
			label = "За " + ReminderLabel(m)
		}
		btns = append(btns, tgui.Btn(label, ReminderData(taskID, m)))
	}
	return tgui.New().Line(text).Inline(tgui.Grid(2, btns...)).Build()
}

// ReminderSet confirms a reminder change.
func ReminderSet(minutes int) kit.Content {
	if minutes <= 0 {
		return Notice("❌ Напоминание отключено")
	}
	return Notice("⏰ Напоминание установлено: за " + ReminderLabel(minutes) + " до события")
}

var badges = map[tasks.Badge]string{
	tasks.BadgeOverdue: "🔴 Просрочено",
	tasks.BadgeSoon:    "🟡 Скоро срок",
	tasks.BadgeActive:  "🟢 Активно",
}

// TaskList renders one page of the chat's tasks.
func TaskList(l tasks.Listing, page int) kit.Content {
	if len(l.Items) == 0 {
		return GroupMenu("📭 Нет активных задач")
	}
	p := tgui.Paginate(l.Items, page, TasksPerPage)

	b := tgui.New().
		RawLine(tgui.B("🕒 Часовой пояс:") + " " + tgui.Esc(fmt.Sprintf("%s (%s)", l.Zone.Name, datetime.Format(l.Now, l.Zone.Offset)))).
		Blank().
		RawLine(tgui.B("📅 Список задач")).
		Blank()
	for _, it := range p.Items {
		b.RawLine(tgui.Esc(badges[it.Badge]) + " " + tgui.B(fmt.Sprintf("Задача #%d", it.ID)))
		b.Line("📌 " + it.Text)
		due := tgui.Raw("🕒 ") + tgui.B("Срок:") + " " + tgui.Esc(datetime.Format(it.Due, l.Zone.Offset))
		if it.HasReminder() {
			due += tgui.Esc("\n⏰ Напоминание: за " + ReminderLabel(it.ReminderMinutes))
		}
		b.RawLine(due)
		b.KV("👥", "Исполнители", Handles(it.Assignees))
		b.Blank()
	}
	b.RawLine(tgui.B(fmt.Sprintf("Страница %d из %d", p.Index+1, p.Pages)))

	kb := tgui.NewInline()
	ids := make([]kit.Button, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, tgui.Btn("#"+strconv.FormatInt(it.ID, 10), tgui.DataID(ScopeTask, ActView, it.ID)))
	}
	kb.Row(ids...)
	nav := make([]kit.Button, 0, 3)
	if p.HasPrev {
		nav = append(nav, tgui.Btn("◀️ Назад", tgui.Data(ScopeList, ActPage, strconv.Itoa(p.Index-1))))
	}
	nav = append(nav, tgui.Btn("🏠 Главное меню", tgui.Data(ScopeMenu, ActMain, "")))
	if p.HasNext {
		nav = append(nav, tgui.Btn("Вперед ▶️", tgui.Data(ScopeList, ActPage, strconv.Itoa(p.Index+1))))
	}
	kb.Row(nav...)
	kb.Row(tgui.Btn("🕒 Сменить часовой пояс", tgui.Data(ScopeZone, ActZoneMenu, "")))
	return b.Inline(kb.Keyboard()).Build()
}

// TaskCard renders a single task with its actions.
func TaskCard(c tasks.Card) kit.Content {
	b := tgui.New().
		Title("📌", fmt.Sprintf("Задача #%d", c.ID)).
		Line(c.Text).
		RawLine(tgui.B("📅 " + datetime.Format(c.Due, c.Zone.Offset)))
	if c.HasReminder() {
		b.Line("⏰ Напоминание: за " + ReminderLabel(c.ReminderMinutes))
	}
	return b.KV("", "👥 Исполнители", Handles(c.Assignees)).
		Inline(TaskActions(c.ID)).
		Build()
}

// TaskActions is the keyboard under a task card.
func TaskActions(taskID int64) kit.Keyboard {
	return tgui.Grid(1,
		tgui.Btn("⌛️ Перенести дату", tgui.DataID(ScopeTask, ActReschedule, taskID)),
		tgui.Btn("✏️ Изменить", tgui.DataID(ScopeTask, ActEdit, taskID)),
		tgui.Btn("➕ Изменить напоминание", tgui.DataID(ScopeTask, ActReminder, taskID)),
		tgui.Btn("🗑 Удалить", tgui.DataID(ScopeTask, ActDelete, taskID)),
		tgui.Btn("🔙 Назад к списку", tgui.Data(ScopeMenu, ActList, "")),
	)
}

// EditMenu asks which part of a task to change.
func EditMenu(taskID int64) kit.Content {
	return tgui.New().
		Line("Что вы хотите изменить?").
		Inline(tgui.Grid(1,
			tgui.Btn("📝 Текст", tgui.DataID(ScopeTask, ActEditText, taskID)),
			tgui.Btn("📅 Дату", tgui.DataID(ScopeTask, ActEditDate, taskID)),
			tgui.Btn("🔙 Назад", tgui.DataID(ScopeTask, ActView, taskID)),
		)).
		Build()
}

// ReschedulePrompt asks for a new due date of t.
func ReschedulePrompt(c tasks.Card) kit.Content {
	return tgui.New().
		Line("🔄 Перенос задачи:").
		Blank().
		Line("📌 " + c.Text).
		Line("Текущая дата: " + datetime.Format(c.Due, c.Zone.Offset)).
		Blank().
		Line("Введите новую дату в формате ДД.ММ.ГГГГ ЧЧ:ММ").
		Line("Например: 25.07.2025 15:30").
		Inline(single("❌ Отменить", tgui.DataID(ScopeTask, ActView, c.ID))).
		Build()
}

// EditTextPrompt asks for the new text of a task.
func EditTextPrompt(c tasks.Card) kit.Content {
	return tgui.New().
		Line("✏️ Введите новый текст задачи:").
		Blank().
		Line("Текущий текст: " + c.Text).
		Inline(single("🔙 Назад", tgui.DataID(ScopeTask, ActEdit, c.ID))).
		Build()
}

// EditDatePrompt asks for the new due date of a task.
func EditDatePrompt(c tasks.Card) kit.Content {
	return tgui.New().
		Line("📅 Введите новую дату в формате ДД.ММ.ГГГГ ЧЧ:ММ").
		Blank().
		Line("Текущая дата: " + datetime.Format(c.Due, c.Zone.Offset)).
		Inline(single("🔙 Назад", tgui.DataID(ScopeTask, ActEdit, c.ID))).
		Build()
}

// ConfirmChange asks to confirm an edit. okAction is ActTextOK or ActDateOK.
func ConfirmChange(what, value string, taskID int64, okAction string) kit.Content {
	return tgui.New().
		Line("Вы ввели " + what + ":").
		Line(value).
		Blank().
		Line("Подтвердить изменения?").
		Inline(tgui.NewInline().Row(
			tgui.Btn("✅ Да", tgui.DataID(ScopeTask, okAction, taskID)),
			tgui.Btn("❌ Нет", tgui.DataID(ScopeTask, ActEdit, taskID)),
		).Keyboard()).
		Build()
}

// DeleteAllConfirm asks before wiping the chat's tasks.
func DeleteAllConfirm() kit.Content {
	return tgui.New().
		Line("⚠️ Вы уверены, что хотите удалить ВСЕ задачи?").
		Inline(tgui.NewInline().Row(
			tgui.Btn("✅ Да, удалить все", tgui.Data(ScopeMenu, ActDeleteAllOK, "")),
			tgui.Btn("❌ Нет, отменить", tgui.Data(ScopeMenu, ActList, "")),
		).Keyboard()).
		Build()
}

// ZoneMenu lists the preset zones.
func ZoneMenu() kit.Content {
	btns := make([]kit.Button, 0, 5)
	for _, z := range timezone.Presets() {
		btns = append(btns, tgui.Btn(timezone.Name(z), tgui.Data(ScopeZone, ActZonePick, string(z))))
	}
	btns = append(btns,
		tgui.Btn("⏳ Указать вручную", tgui.Data(ScopeZone, ActZoneCustom, "")),
		tgui.Btn("🔙 Назад", tgui.Data(ScopeMenu, ActMain, "")),
	)
	return tgui.New().Line("🕒 Выберите ваш часовой пояс:").Inline(tgui.Grid(1, btns...)).Build()
}

// ZoneConfirm asks to confirm a zone showing its current local time.
func ZoneConfirm(name string, offset int, now time.Time) kit.Content {
	clock := now.UTC().Add(time.Duration(offset) * time.Hour).Format("15:04")
	return tgui.New().
		Line(fmt.Sprintf("Установить часовой пояс: %s (%s)?", name, clock)).
		Inline(tgui.Grid(1,
			tgui.Btn(fmt.Sprintf("✅ Да, установить %s (%s)", tgui.TruncRunes(name, 32), clock), tgui.Data(ScopeZone, ActZoneOK, "")),
			tgui.Btn("❌ Нет, выбрать другой", tgui.Data(ScopeZone, ActZoneMenu, "")),
		)).
		Build()
}

// ZoneNamePrompt asks for the name of a custom zone.
func ZoneNamePrompt() kit.Content {
	return NoticeWith("📝 Введите название вашего региона (например: Москва):", "❌ Отменить", tgui.Data(ScopeZone, ActZoneMenu, ""))
}

// ZoneHourPrompt asks for the user's current local hour.
func ZoneHourPrompt(now time.Time) kit.Content {
	msk := now.UTC().Add(3 * time.Hour)
	return tgui.New().
		Line(fmt.Sprintf("⏰ Сейчас в Москве: %d:%02d", msk.Hour(), msk.Minute())).
		Line("Введите ваш текущий час (0-23):").
		Inline(single("❌ Отменить", tgui.Data(ScopeZone, ActZoneMenu, ""))).
		Build()
}

// ZoneSet confirms the stored zone.
func ZoneSet(name string) kit.Content {
	return GroupMenu("✅ Часовой пояс установлен: " + name)
}
