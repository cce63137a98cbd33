// Package bot turns chat updates into task screens. It owns the callback
// routing table, the per-user conversation state and the worker pool that
// runs handlers.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"taskbot/internal/datetime"
	"taskbot/internal/messages"
	rtsup "taskbot/internal/runtime/supervisor"
	"taskbot/internal/tasks"
	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

const (
	jobQueueCap = 256

	successTTL    = 3 * time.Second
	permissionTTL = 10 * time.Second

	textGroupsOnly = "Эта команда доступна только в группах!"
	textFailed     = "Произошла ошибка, попробуйте еще раз"
	textBusy       = "Бот занят, попробуйте позже"
	textNotFound   = "Задача не найдена"
	textExpired    = "⏳ Время ожидания истекло, начните заново"
)

// Config tunes the router. Zero values take defaults.
type Config struct {
	Workers      int
	SessionTTL   time.Duration
	TransientTTL time.Duration // lifetime of error notices
	Timeout      time.Duration // per handler
	Username     string        // bot handle for the "add to group" link
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.TransientTTL <= 0 {
		c.TransientTTL = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Request is one update being handled.
type Request struct {
	Update    kit.Update
	ChatID    int64
	FromID    int64
	MessageID int // the user's message, or the message under the button
	Group     bool
	Text      string
	Data      tgui.Callback
	Route     string
	ReqID     string
	Log       logx.Logger

	callbackID string
	answer     string
}

// Answer sets the toast shown for a callback.
func (r *Request) Answer(text string) { r.answer = text }

func (r *Request) IsCallback() bool { return r.callbackID != "" }

type route struct {
	scope  string
	action string
	handle HandlerFunc
}

// Router dispatches updates to handlers.
type Router struct {
	msgr  kit.Messenger
	msgs  *messages.Coordinator
	tasks *tasks.Service
	sess  *Sessions
	log   logx.Logger
	now   func() time.Time

	mu  sync.RWMutex
	cfg Config

	callbacks map[string]map[string]HandlerFunc
	dropped   uint64
}

type Option func(*Router)

// WithClock overrides time.Now for prompts that show the current time.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSessions shares a session store, e.g. across router restarts.
func WithSessions(s *Sessions) Option {
	return func(r *Router) {
		if s != nil {
			r.sess = s
		}
	}
}

func New(cfg Config, msgr kit.Messenger, msgs *messages.Coordinator, svc *tasks.Service, log logx.Logger, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	r := &Router{
		msgr:      msgr,
		msgs:      msgs,
		tasks:     svc,
		log:       log.With(logx.String("comp", "bot")),
		now:       time.Now,
		cfg:       cfg,
		callbacks: map[string]map[string]HandlerFunc{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.sess == nil {
		r.sess = NewSessions(cfg.SessionTTL)
	}
	for _, rt := range r.routes() {
		if r.callbacks[rt.scope] == nil {
			r.callbacks[rt.scope] = map[string]HandlerFunc{}
		}
		r.callbacks[rt.scope][rt.action] = rt.handle
	}
	return r
}

// Apply updates the tunables that take effect without a restart. The
// worker count is read on the next Run.
func (r *Router) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	r.mu.Lock()
	if cfg.Username == "" {
		cfg.Username = r.cfg.Username
	}
	r.cfg = cfg
	r.mu.Unlock()
	r.sess.SetTTL(cfg.SessionTTL)
}

func (r *Router) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Sessions exposes the conversation store.
func (r *Router) Sessions() *Sessions { return r.sess }

// Run handles updates on a bounded worker pool until ctx is done or
// updates is closed. A full queue rejects the update instead of blocking
// the poller.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	cfg := r.config()
	jobs := make(chan kit.Update, jobQueueCap)
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log))

	for i := 0; i < cfg.Workers; i++ {
		sup.GoRestart("bot.worker."+strconv.Itoa(i), func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case up, ok := <-jobs:
					if !ok {
						return nil
					}
					_ = r.Handle(ctx, up)
				}
			}
		}, rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	}
	r.log.Info("router started", logx.Int("workers", cfg.Workers), logx.Int("job_queue_cap", cap(jobs)))
	r.updateMenu(ctx)

	defer func() {
		close(jobs)
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("router workers did not stop cleanly", logx.Err(err))
		}
		r.log.Info("router stopped", logx.Uint64("dropped", atomic.LoadUint64(&r.dropped)))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("updates channel closed")
				return nil
			}
			select {
			case jobs <- up:
			default:
				r.reject(ctx, up)
			}
		}
	}
}

func (r *Router) reject(ctx context.Context, up kit.Update) {
	atomic.AddUint64(&r.dropped, 1)
	if up.Callback != nil {
		_ = r.msgr.AnswerCallback(ctx, up.Callback.ID, textBusy)
		return
	}
	if up.Message != nil {
		r.log.Warn("update dropped, queue full", logx.Int64("chat_id", up.Message.ChatID))
	}
}

func (r *Router) updateMenu(ctx context.Context) {
	u, ok := r.msgr.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	cmds := []kit.BotCommand{
		{Command: "start", Description: "Главное меню"},
		{Command: "help", Description: "Помощь"},
	}
	if err := u.UpdateMenuCommands(ctx, cmds); err != nil {
		r.log.Warn("command menu update failed", logx.Err(err))
	}
}

// Handle routes and runs one update synchronously. Callbacks are always
// answered so the client stops its spinner.
func (r *Router) Handle(ctx context.Context, up kit.Update) error {
	req, h := r.route(up)
	if req == nil {
		return nil
	}
	final := Chain(h,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(r.config().Timeout),
	)
	err := final(ctx, req)
	if !req.IsCallback() {
		return err
	}
	if err != nil && req.answer == "" {
		req.answer = textFailed
	}
	if aerr := r.msgr.AnswerCallback(ctx, req.callbackID, req.answer); aerr != nil {
		req.Log.Debug("answer callback failed", logx.Err(aerr))
	}
	return err
}

func (r *Router) route(up kit.Update) (*Request, HandlerFunc) {
	switch {
	case up.Callback != nil:
		return r.routeCallback(up)
	case up.Message != nil:
		return r.routeMessage(up)
	}
	return nil, nil
}

func (r *Router) routeCallback(up kit.Update) (*Request, HandlerFunc) {
	cb := up.Callback
	req := &Request{
		Update:     up,
		ChatID:     cb.ChatID,
		FromID:     cb.FromID,
		MessageID:  cb.MessageID,
		Group:      cb.IsGroup,
		callbackID: cb.ID,
	}
	data, ok := tgui.ParseData(strings.TrimSpace(cb.Data))
	req.Data = data
	req.Route = "cb:" + data.Scope + ":" + data.Action
	if !ok {
		req.Route = "cb:invalid"
	}
	r.withLog(req)

	if !req.Group {
		return req, func(_ context.Context, req *Request) error {
			req.Answer(textGroupsOnly)
			return nil
		}
	}
	h := r.callbacks[data.Scope][data.Action]
	if h == nil {
		return req, func(_ context.Context, req *Request) error {
			req.Log.Debug("unknown callback", logx.String("data", cb.Data))
			return nil
		}
	}
	return req, h
}

func (r *Router) routeMessage(up kit.Update) (*Request, HandlerFunc) {
	m := up.Message
	text := strings.TrimSpace(m.Text)
	req := &Request{
		Update:    up,
		ChatID:    m.ChatID,
		FromID:    m.FromID,
		MessageID: m.ID,
		Group:     m.IsGroup,
		Text:      text,
	}

	if cmd, ok := command(text); ok {
		switch cmd {
		case "start", "help":
			req.Route = "cmd:" + cmd
			r.withLog(req)
			return req, r.handleStart
		}
		return nil, nil
	}

	if !req.Group {
		return nil, nil
	}
	sess, ok := r.sess.Get(req.ChatID, req.FromID)
	if !ok || sess.Step == StepNone {
		return nil, nil
	}
	req.Route = "input:" + sess.Step.String()
	r.withLog(req)
	return req, func(ctx context.Context, req *Request) error {
		return r.handleInput(ctx, req, sess)
	}
}

// command extracts "start" from "/start@taskbot args".
func command(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name, _, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), name != ""
}

func (r *Router) withLog(req *Request) {
	req.ReqID = newReqID()
	req.Log = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.ChatID),
		logx.Int64("from_id", req.FromID),
	)
}

// screen edits the message under the button into c, or sends c as a new
// tracked message when there is nothing to edit.
func (r *Router) screen(ctx context.Context, req *Request, taskID int64, c kit.Content) error {
	if req.IsCallback() && req.MessageID != 0 {
		extra, err := r.msgr.Edit(ctx, req.ChatID, req.MessageID, c)
		r.msgs.Track(ctx, req.ChatID, taskID, extra...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, kit.ErrMessageGone) {
			req.Log.Debug("edit failed, sending instead", logx.Err(err))
		}
	}
	_, err := r.msgs.DeliverTracked(ctx, req.ChatID, taskID, c)
	return err
}

// replace removes the message under the button, retires the task's
// messages (all of the chat's for taskID 0) and sends c.
func (r *Router) replace(ctx context.Context, req *Request, taskID int64, c kit.Content) error {
	r.dropMessage(ctx, req)
	_, err := r.msgs.DeliverTracked(ctx, req.ChatID, taskID, c)
	return err
}

// fresh clears every tracked message of the chat and sends c tracked
// under taskID.
func (r *Router) fresh(ctx context.Context, req *Request, taskID int64, c kit.Content) error {
	if req.IsCallback() {
		r.dropMessage(ctx, req)
	}
	if err := r.msgs.Retire(ctx, req.ChatID, 0); err != nil {
		req.Log.Warn("retire chat messages failed", logx.Err(err))
	}
	_, err := r.msgs.Send(ctx, req.ChatID, taskID, c)
	return err
}

// flash shows a short-lived success notice.
func (r *Router) flash(ctx context.Context, req *Request, c kit.Content) error {
	_, err := r.msgs.SendTransient(ctx, req.ChatID, 0, c, successTTL)
	return err
}

// complain shows a short-lived error notice and leaves the prompt alone.
func (r *Router) complain(ctx context.Context, req *Request, ttl time.Duration, c kit.Content) error {
	if ttl <= 0 {
		ttl = r.config().TransientTTL
	}
	_, err := r.msgs.SendTransient(ctx, req.ChatID, 0, c, ttl)
	return err
}

// dropMessage deletes the update's own message.
func (r *Router) dropMessage(ctx context.Context, req *Request) {
	if req.MessageID == 0 {
		return
	}
	if err := r.msgr.Delete(ctx, req.ChatID, req.MessageID); err != nil {
		req.Log.Debug("delete message failed", logx.Int("message_id", req.MessageID), logx.Err(err))
	}
}

// missing answers "not found" for a vanished task and reports whether it did.
func missing(req *Request, err error) bool {
	if !errors.Is(err, tasks.ErrNotFound) {
		return false
	}
	req.Answer(textNotFound)
	return true
}

func payloadID(req *Request) (int64, error) {
	id, err := req.Data.ID()
	if err != nil {
		return 0, fmt.Errorf("callback %s: bad task id %q", req.Route, req.Data.Payload)
	}
	return id, nil
}

// dateReason is the user-facing reason a date was rejected.
func dateReason(err error) string {
	if errors.Is(err, datetime.ErrPastDate) {
		return "Дата не может быть в прошлом"
	}
	return "Неверный формат даты"
}

func isDateErr(err error) bool {
	return errors.Is(err, datetime.ErrPastDate) || errors.Is(err, datetime.ErrInvalidFormat)
}

var ridSeq uint64

// newReqID is a short sortable id: base36 time, sequence and two random chars.
func newReqID() string {
	n := atomic.AddUint64(&ridSeq, 1)
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := []byte{alpha[rand.Intn(len(alpha))], alpha[rand.Intn(len(alpha))]}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + string(suffix)
}
