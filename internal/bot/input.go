package bot

import (
	"context"
	"errors"
	"strconv"

	"taskbot/internal/tasks"
	"taskbot/internal/views"
	logx "taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

// handleInput consumes a text message for the step the user is in.
func (r *Router) handleInput(ctx context.Context, req *Request, sess Session) error {
	switch sess.Step {
	case StepTaskLine:
		return r.inputTaskLine(ctx, req)
	case StepAssignee:
		return r.inputAssignee(ctx, req, sess)
	case StepNewDate:
		return r.inputNewDate(ctx, req, sess)
	case StepEditText:
		return r.inputEditText(ctx, req, sess)
	case StepEditDate:
		return r.inputEditDate(ctx, req, sess)
	case StepZoneName:
		return r.inputZoneName(ctx, req)
	case StepZoneHour:
		return r.inputZoneHour(ctx, req, sess)
	}
	return nil
}

func (r *Router) inputTaskLine(ctx context.Context, req *Request) error {
	r.dropMessage(ctx, req)
	retry := tgui.Data(views.ScopeMenu, views.ActCreate, "")

	t, err := r.tasks.CreateFromLine(ctx, req.ChatID, req.FromID, req.Text)
	switch {
	case errors.Is(err, tasks.ErrMissingComma), errors.Is(err, tasks.ErrEmptyText):
		_, err = r.msgs.DeliverTracked(ctx, req.ChatID, 0, views.NoticeWith(
			"❌ Неверный формат. Введите через запятую:\nНапример: Парикмахер, 10.07.2025 13:26",
			"↩️ Попробовать снова", retry))
		return err
	case isDateErr(err):
		_, err = r.msgs.DeliverTracked(ctx, req.ChatID, 0,
			views.DateError(dateReason(err), "Парикмахер, ", "↩️ Ввести заново", retry))
		return err
	case err != nil:
		return err
	}

	r.sess.Clear(req.ChatID, req.FromID)
	card, err := r.tasks.View(ctx, req.ChatID, t.ID)
	if err != nil {
		return err
	}
	return r.fresh(ctx, req, t.ID, views.Created(card))
}

func (r *Router) inputAssignee(ctx context.Context, req *Request, sess Session) error {
	all, err := r.tasks.AddAssignee(ctx, req.ChatID, sess.TaskID, req.Text)
	switch {
	case errors.Is(err, tasks.ErrInvalidAssignee):
		return r.complain(ctx, req, 0, views.Notice(
			"❌ Ошибка: Имя исполнителя должно начинаться с @\n\nВведите имя исполнителя через @ (например: @username)"))
	case errors.Is(err, tasks.ErrNotFound):
		r.sess.Clear(req.ChatID, req.FromID)
		return r.complain(ctx, req, 0, views.Notice(textNotFound))
	case err != nil:
		return err
	}
	r.dropMessage(ctx, req)
	// the step is kept so further handles can be typed right away
	return r.fresh(ctx, req, sess.TaskID, views.AssigneeAdded(sess.TaskID, req.Text, all))
}

func (r *Router) inputNewDate(ctx context.Context, req *Request, sess Session) error {
	r.dropMessage(ctx, req)
	_, err := r.tasks.Reschedule(ctx, req.ChatID, sess.TaskID, req.Text)
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		r.sess.Clear(req.ChatID, req.FromID)
		return r.complain(ctx, req, 0, views.Notice(textNotFound))
	case isDateErr(err):
		cancel := tgui.DataID(views.ScopeTask, views.ActView, sess.TaskID)
		_, err = r.msgs.DeliverTracked(ctx, req.ChatID, sess.TaskID,
			views.DateError(dateReason(err), "", "❌ Отменить", cancel))
		return err
	case err != nil:
		return err
	}
	r.sess.Clear(req.ChatID, req.FromID)
	if err := r.flash(ctx, req, views.Notice("✅ Дата задачи успешно изменена на: "+req.Text)); err != nil {
		req.Log.Warn("success notice failed", logx.Err(err))
	}
	return r.showCard(ctx, req, sess.TaskID)
}

func (r *Router) inputEditText(ctx context.Context, req *Request, sess Session) error {
	if req.Text == "" {
		return r.complain(ctx, req, 0, views.Notice("❌ Ошибка: Текст не может быть пустым"))
	}
	t, err := r.tasks.Get(ctx, req.ChatID, sess.TaskID)
	if errors.Is(err, tasks.ErrNotFound) {
		r.sess.Clear(req.ChatID, req.FromID)
		return r.complain(ctx, req, 0, views.Notice(textNotFound))
	}
	if err != nil {
		return err
	}
	if t.Text == req.Text {
		return r.complain(ctx, req, successTTL, views.Notice("❌ Новый текст такой же, как текущий"))
	}
	r.dropMessage(ctx, req)
	r.sess.Put(req.ChatID, req.FromID, Session{TaskID: sess.TaskID, Input: req.Text})
	_, err = r.msgs.DeliverTracked(ctx, req.ChatID, sess.TaskID,
		views.ConfirmChange("новый текст", req.Text, sess.TaskID, views.ActTextOK))
	return err
}

func (r *Router) inputEditDate(ctx context.Context, req *Request, sess Session) error {
	if _, err := r.tasks.ParseDue(ctx, req.ChatID, req.Text); err != nil {
		if !isDateErr(err) {
			return err
		}
		return r.complain(ctx, req, 0, views.Notice(
			"❌ Ошибка: "+dateReason(err)+"\n\nВведите дату в формате ДД.ММ.ГГГГ ЧЧ:ММ"))
	}
	r.dropMessage(ctx, req)
	r.sess.Put(req.ChatID, req.FromID, Session{TaskID: sess.TaskID, Input: req.Text})
	_, err := r.msgs.DeliverTracked(ctx, req.ChatID, sess.TaskID,
		views.ConfirmChange("новую дату", req.Text, sess.TaskID, views.ActDateOK))
	return err
}

func (r *Router) inputZoneName(ctx context.Context, req *Request) error {
	if req.Text == "" {
		return nil
	}
	r.dropMessage(ctx, req)
	r.sess.Put(req.ChatID, req.FromID, Session{Step: StepZoneHour, ZoneName: req.Text})
	_, err := r.msgs.DeliverTracked(ctx, req.ChatID, 0, views.ZoneHourPrompt(r.now()))
	return err
}

func (r *Router) inputZoneHour(ctx context.Context, req *Request, sess Session) error {
	hour, err := strconv.Atoi(req.Text)
	if err != nil {
		return r.badHour(ctx, req, err)
	}
	cfg, err := r.tasks.CustomZone(sess.ZoneName, hour)
	if err != nil {
		return r.badHour(ctx, req, err)
	}
	r.dropMessage(ctx, req)
	r.sess.Put(req.ChatID, req.FromID, Session{Step: StepZoneConfirm, ZoneName: sess.ZoneName, Zone: &cfg})
	_, err = r.msgs.DeliverTracked(ctx, req.ChatID, 0, views.ZoneConfirm(sess.ZoneName, *cfg.CustomOffset, r.now()))
	return err
}

func (r *Router) badHour(ctx context.Context, req *Request, err error) error {
	req.Log.Debug("bad hour", logx.String("input", req.Text), logx.Err(err))
	return r.complain(ctx, req, 0, views.NoticeWith(
		"❌ Неверный формат. Введите число от 0 до 23:",
		"❌ Отменить", tgui.Data(views.ScopeZone, views.ActZoneMenu, "")))
}
