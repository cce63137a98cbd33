package bot

import (
	"context"
	"fmt"
	"strconv"

	"taskbot/internal/views"
	logx "taskbot/pkg/logx"
)

func (r *Router) routes() []route {
	return []route{
		{views.ScopeMenu, views.ActMain, r.menuMain},
		{views.ScopeMenu, views.ActCreate, r.menuCreate},
		{views.ScopeMenu, views.ActList, r.menuList},
		{views.ScopeMenu, views.ActDeleteAll, r.menuDeleteAll},
		{views.ScopeMenu, views.ActDeleteAllOK, r.menuDeleteAllOK},

		{views.ScopeList, views.ActPage, r.listPage},

		{views.ScopeTask, views.ActView, r.taskView},
		{views.ScopeTask, views.ActConfirm, r.taskConfirm},
		{views.ScopeTask, views.ActDelete, r.taskDelete},
		{views.ScopeTask, views.ActReschedule, r.taskReschedule},
		{views.ScopeTask, views.ActReminder, r.taskReminder},
		{views.ScopeTask, views.ActEdit, r.taskEdit},
		{views.ScopeTask, views.ActEditText, r.taskEditText},
		{views.ScopeTask, views.ActEditDate, r.taskEditDate},
		{views.ScopeTask, views.ActTextOK, r.taskTextOK},
		{views.ScopeTask, views.ActDateOK, r.taskDateOK},

		{views.ScopeReminder, views.ActSet, r.reminderSet},

		{views.ScopeAssignee, views.ActYes, r.assigneeAsk},
		{views.ScopeAssignee, views.ActMore, r.assigneeAsk},
		{views.ScopeAssignee, views.ActNo, r.assigneeDone},
		{views.ScopeAssignee, views.ActDone, r.assigneeDone},

		{views.ScopeZone, views.ActZoneMenu, r.zoneMenu},
		{views.ScopeZone, views.ActZonePick, r.zonePick},
		{views.ScopeZone, views.ActZoneCustom, r.zoneCustom},
		{views.ScopeZone, views.ActZoneOK, r.zoneOK},
	}
}

// handleStart serves /start and /help. In a group the command itself is
// removed and the menu replaces everything the bot posted before.
func (r *Router) handleStart(ctx context.Context, req *Request) error {
	r.sess.Clear(req.ChatID, req.FromID)
	if !req.Group {
		_, err := r.msgs.DeliverTracked(ctx, req.ChatID, 0, views.PrivateWelcome(r.config().Username))
		return err
	}
	r.dropMessage(ctx, req)

	ok, err := r.msgr.CanDeleteMessages(ctx, req.ChatID)
	if err != nil {
		req.Log.Warn("permission check failed", logx.Err(err))
	}
	if !ok {
		_, err := r.msgs.DeliverTransient(ctx, req.ChatID, 0, views.PermissionWarning(), permissionTTL)
		return err
	}
	_, err = r.msgs.DeliverTracked(ctx, req.ChatID, 0, views.GroupMenu("📋 Бот для управления задачами. Выберите действие:"))
	return err
}

func (r *Router) menuMain(ctx context.Context, req *Request) error {
	r.sess.Clear(req.ChatID, req.FromID)
	return r.screen(ctx, req, 0, views.GroupMenu("📋 Главное меню"))
}

func (r *Router) menuCreate(ctx context.Context, req *Request) error {
	r.sess.Put(req.ChatID, req.FromID, Session{Step: StepTaskLine})
	return r.replace(ctx, req, 0, views.CreatePrompt())
}

func (r *Router) menuList(ctx context.Context, req *Request) error {
	r.sess.Clear(req.ChatID, req.FromID)
	return r.showList(ctx, req, 0)
}

func (r *Router) listPage(ctx context.Context, req *Request) error {
	page, err := strconv.Atoi(req.Data.Payload)
	if err != nil {
		return fmt.Errorf("bad page %q", req.Data.Payload)
	}
	return r.showList(ctx, req, page)
}

func (r *Router) showList(ctx context.Context, req *Request, page int) error {
	l, err := r.tasks.List(ctx, req.ChatID)
	if err != nil {
		return err
	}
	return r.screen(ctx, req, 0, views.TaskList(l, page))
}

func (r *Router) menuDeleteAll(ctx context.Context, req *Request) error {
	return r.screen(ctx, req, 0, views.DeleteAllConfirm())
}

func (r *Router) menuDeleteAllOK(ctx context.Context, req *Request) error {
	n, err := r.tasks.DeleteAll(ctx, req.ChatID)
	if err != nil {
		return err
	}
	req.Log.Info("all tasks deleted", logx.Int64("count", n))
	return r.screen(ctx, req, 0, views.GroupMenu("✅ Все задачи удалены"))
}
