package bot

import (
	"context"
	"errors"
	"fmt"

	"taskbot/internal/tasks"
	"taskbot/internal/views"
	"taskbot/pkg/tgui"
)

func (r *Router) taskView(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	r.sess.Clear(req.ChatID, req.FromID)
	card, err := r.tasks.View(ctx, req.ChatID, id)
	if missing(req, err) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.replace(ctx, req, id, views.TaskCard(card))
}

func (r *Router) taskConfirm(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	err = r.tasks.Confirm(ctx, req.ChatID, id)
	if missing(req, err) {
		return nil
	}
	if err != nil {
		return err
	}
	req.Answer("✅ Задача подтверждена")
	return nil
}

func (r *Router) taskDelete(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	err = r.tasks.Delete(ctx, req.ChatID, id)
	if missing(req, err) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.showList(ctx, req, 0)
}

func (r *Router) taskReschedule(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	card, err := r.tasks.View(ctx, req.ChatID, id)
	if missing(req, err) {
		return nil
	}
	if err != nil {
		return err
	}
	r.sess.Put(req.ChatID, req.FromID, Session{Step: StepNewDate, TaskID: id})
	return r.replace(ctx, req, id, views.ReschedulePrompt(card))
}

func (r *Router) taskReminder(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	return r.fresh(ctx, req, id, views.ReminderMenu(id, "Выберите время напоминания:"))
}

func (r *Router) taskEdit(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	r.sess.Clear(req.ChatID, req.FromID)
	return r.screen(ctx, req, id, views.EditMenu(id))
}

func (r *Router) taskEditText(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	card, err := r.tasks.View(ctx, req.ChatID, id)
	if missing(req, err) {
		return nil
	}
	if err != nil {
		return err
	}
	r.sess.Put(req.ChatID, req.FromID, Session{Step: StepEditText, TaskID: id})
	return r.replace(ctx, req, id, views.EditTextPrompt(card))
}

func (r *Router) taskEditDate(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	card, err := r.tasks.View(ctx, req.ChatID, id)
	if missing(req, err) {
		return nil
	}
	if err != nil {
		return err
	}
	r.sess.Put(req.ChatID, req.FromID, Session{Step: StepEditDate, TaskID: id})
	return r.replace(ctx, req, id, views.EditDatePrompt(card))
}

// pending returns the confirmed input for task id, answering the callback
// when the session is gone.
func (r *Router) pending(req *Request, id int64) (string, bool) {
	sess, ok := r.sess.Get(req.ChatID, req.FromID)
	if !ok || sess.TaskID != id || sess.Input == "" {
		req.Answer(textExpired)
		return "", false
	}
	return sess.Input, true
}

func (r *Router) taskTextOK(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	text, ok := r.pending(req, id)
	if !ok {
		return nil
	}
	_, err = r.tasks.EditText(ctx, req.ChatID, id, text)
	switch {
	case missing(req, err):
		r.sess.Clear(req.ChatID, req.FromID)
		return nil
	case errors.Is(err, tasks.ErrSameText), errors.Is(err, tasks.ErrEmptyText):
		req.Answer("❌ Новый текст такой же, как текущий")
		return nil
	case err != nil:
		return err
	}
	r.sess.Clear(req.ChatID, req.FromID)
	req.Answer("✅ Текст задачи успешно изменен!")
	return r.showCard(ctx, req, id)
}

func (r *Router) taskDateOK(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	input, ok := r.pending(req, id)
	if !ok {
		return nil
	}
	_, err = r.tasks.Reschedule(ctx, req.ChatID, id, input)
	switch {
	case missing(req, err):
		r.sess.Clear(req.ChatID, req.FromID)
		return nil
	case isDateErr(err):
		// the date may have passed while the confirmation was open
		r.sess.Put(req.ChatID, req.FromID, Session{Step: StepEditDate, TaskID: id})
		_, err = r.msgs.DeliverTracked(ctx, req.ChatID, id,
			views.DateError(dateReason(err), "", "🔙 Назад", tgui.DataID(views.ScopeTask, views.ActEdit, id)))
		return err
	case err != nil:
		return err
	}
	r.sess.Clear(req.ChatID, req.FromID)
	req.Answer("✅ Дата задачи успешно изменена!")
	return r.showCard(ctx, req, id)
}

// showCard sends the task card as the task's only tracked message.
func (r *Router) showCard(ctx context.Context, req *Request, id int64) error {
	card, err := r.tasks.View(ctx, req.ChatID, id)
	if err != nil {
		return err
	}
	_, err = r.msgs.DeliverTracked(ctx, req.ChatID, id, views.TaskCard(card))
	return err
}

func (r *Router) reminderSet(ctx context.Context, req *Request) error {
	id, minutes, ok := views.ParseReminder(req.Data.Payload)
	if !ok {
		return fmt.Errorf("bad reminder payload %q", req.Data.Payload)
	}
	err := r.tasks.SetReminder(ctx, req.ChatID, id, minutes)
	if missing(req, err) {
		return nil
	}
	if err != nil {
		return err
	}
	r.dropMessage(ctx, req)
	if err := r.msgs.Retire(ctx, req.ChatID, 0); err != nil {
		return err
	}
	_, err = r.msgs.SendTransient(ctx, req.ChatID, id, views.ReminderSet(minutes), successTTL)
	return err
}

func (r *Router) assigneeAsk(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	if _, err := r.tasks.Get(ctx, req.ChatID, id); missing(req, err) {
		return nil
	} else if err != nil {
		return err
	}
	r.sess.Put(req.ChatID, req.FromID, Session{Step: StepAssignee, TaskID: id})
	return r.fresh(ctx, req, id, views.AssigneePrompt())
}

func (r *Router) assigneeDone(ctx context.Context, req *Request) error {
	id, err := payloadID(req)
	if err != nil {
		return err
	}
	r.sess.Clear(req.ChatID, req.FromID)
	return r.fresh(ctx, req, id, views.ReminderMenu(id, "✅ Задача создана! Добавить напоминание?"))
}
