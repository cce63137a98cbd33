// Package telegram implements transport.Messenger and transport.Source on
// top of telebot.
package telegram

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "taskbot/internal/runtime/supervisor"
	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
)

// Config configures the Telegram transport.
type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter; created on Start.
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the router was slower
	// than the poll loop. Reported periodically, not per update.
	droppedUpdates uint64

	menuMu   sync.Mutex
	menuHash uint64
}

var (
	_ kit.Messenger          = (*Adapter)(nil)
	_ kit.Source             = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the current output channel; Start may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      isGroup(m.Chat),
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || m.Chat == nil {
			return nil
		}
		var from int64
		if cb.Sender != nil {
			from = cb.Sender.ID
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    from,
				MessageID: m.ID,
				// telebot prefixes unique-less data with '\f'.
				Data:    strings.TrimPrefix(cb.Data, "\f"),
				IsGroup: isGroup(m.Chat),
			},
		})
		return nil
	})
}

func isGroup(c *tele.Chat) bool {
	return c.Type == tele.ChatGroup || c.Type == tele.ChatSuperGroup
}

// Username is the bot's own @handle without the '@'.
func (a *Adapter) Username() string {
	if a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram"))),
		// a broken poll loop should not take the scheduler down.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// telebot's Start is a long-running loop that can exit unexpectedly;
	// restart it so the adapter self-heals.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.bot.Me.Username))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates is still long-polling.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) Send(ctx context.Context, chatID int64, c kit.Content) ([]int, error) {
	chunks := splitTelegramText(c.Text, telegramTextLimit, c.HTML)
	opt := sendOptions(c)
	first, err := a.sendOne(ctx, chatID, chunks[0], opt)
	if err != nil {
		return nil, err
	}
	rest, err := a.sendChunks(ctx, chatID, chunks[1:], withoutMarkup(opt))
	return append([]int{first}, rest...), err
}

func (a *Adapter) Edit(ctx context.Context, chatID int64, messageID int, c kit.Content) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chunks := splitTelegramText(c.Text, telegramTextLimit, c.HTML)
	opt := sendOptions(c)
	_, err := a.bot.Edit(ref(chatID, messageID), chunks[0], opt)
	switch {
	case err == nil, errors.Is(err, tele.ErrMessageNotModified):
	case isGone(err):
		return nil, kit.ErrMessageGone
	default:
		return nil, err
	}
	// Text too long for one edit: send the rest as new messages.
	return a.sendChunks(ctx, chatID, chunks[1:], withoutMarkup(opt))
}

// sendChunks sends each chunk as its own message and collects the ids,
// stopping at the first failure.
func (a *Adapter) sendChunks(ctx context.Context, chatID int64, chunks []string, opt *tele.SendOptions) ([]int, error) {
	var ids []int
	for _, chunk := range chunks {
		id, err := a.sendOne(ctx, chatID, chunk, opt)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *Adapter) sendOne(ctx context.Context, chatID int64, text string, opt *tele.SendOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: chatID}, text, opt)
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (a *Adapter) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.Delete(ref(chatID, messageID)); err != nil && !isGone(err) {
		return err
	}
	return nil
}

func (a *Adapter) Pin(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Pin(ref(chatID, messageID), tele.Silent)
}

func (a *Adapter) Unpin(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.Unpin(&tele.Chat{ID: chatID}, messageID); err != nil && !isGone(err) {
		return err
	}
	return nil
}

func (a *Adapter) CanDeleteMessages(ctx context.Context, chatID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if chatID > 0 {
		// Private chat: the bot can always delete its own messages.
		return true, nil
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, a.bot.Me)
	if err != nil {
		return false, err
	}
	switch m.Role {
	case tele.Creator:
		return true, nil
	case tele.Administrator:
		return m.CanDeleteMessages, nil
	default:
		return false, nil
	}
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// SendLog delivers an ops log line as plain text.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, text string) error {
	_, err := a.Send(ctx, chatID, kit.Content{Text: text})
	return err
}

// UpdateMenuCommands sets the bot command menu. It only calls Telegram
// when the list changes.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
		out = append(out, tele.Command{Text: c.Command, Description: d})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

func sendOptions(c kit.Content) *tele.SendOptions {
	opt := &tele.SendOptions{DisableWebPagePreview: true}
	if c.HTML {
		opt.ParseMode = tele.ModeHTML
	}
	if len(c.Keyboard) > 0 {
		rows := make([][]tele.InlineButton, 0, len(c.Keyboard))
		for _, r := range c.Keyboard {
			row := make([]tele.InlineButton, 0, len(r))
			for _, b := range r {
				row = append(row, tele.InlineButton{Text: b.Text, Data: b.Data, URL: b.URL})
			}
			rows = append(rows, row)
		}
		opt.ReplyMarkup = &tele.ReplyMarkup{InlineKeyboard: rows}
	}
	return opt
}

// withoutMarkup is opt for overflow chunks: the keyboard stays on the
// first message.
func withoutMarkup(opt *tele.SendOptions) *tele.SendOptions {
	cp := *opt
	cp.ReplyMarkup = nil
	return &cp
}

func ref(chatID int64, messageID int) tele.StoredMessage {
	return tele.StoredMessage{ChatID: chatID, MessageID: strconv.Itoa(messageID)}
}

func isGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, tele.ErrNotFoundToDelete) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "message to delete not found") ||
		strings.Contains(s, "message to edit not found") ||
		strings.Contains(s, "message not found") ||
		strings.Contains(s, "message to unpin not found")
}
