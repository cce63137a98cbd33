// Package messages keeps one live status message per task and chat, and
// owns the pinned due-alert bookkeeping.
package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"taskbot/internal/domain"
	rtsup "taskbot/internal/runtime/supervisor"
	"taskbot/internal/storage"
	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
)

// ErrDelivery wraps a failed Messenger call.
var ErrDelivery = errors.New("delivery failed")

const (
	defaultRetirePace   = 300 * time.Millisecond
	defaultTrackTries   = 3
	defaultTrackBackoff = 100 * time.Millisecond
)

// Coordinator sends, tracks, retires and pins bot messages.
type Coordinator struct {
	msgr  kit.Messenger
	store storage.MessageStore
	log   logx.Logger

	retire     *rate.Limiter
	trackTries int
	trackWait  time.Duration
	sup        *rtsup.Supervisor
}

type Option func(*Coordinator)

// WithRetirePace spaces out platform deletes. 0 disables pacing.
func WithRetirePace(d time.Duration) Option {
	return func(c *Coordinator) {
		if d <= 0 {
			c.retire = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.retire = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithTrackRetry sets how often a tracking write is attempted and the base
// backoff (multiplied by the attempt number).
func WithTrackRetry(tries int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		if tries > 0 {
			c.trackTries = tries
		}
		if backoff >= 0 {
			c.trackWait = backoff
		}
	}
}

// WithSupervisor runs delayed deletes of transient messages under sup.
func WithSupervisor(sup *rtsup.Supervisor) Option {
	return func(c *Coordinator) { c.sup = sup }
}

func New(msgr kit.Messenger, store storage.MessageStore, log logx.Logger, opts ...Option) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Coordinator{
		msgr:       msgr,
		store:      store,
		log:        log.With(logx.String("comp", "messages")),
		retire:     rate.NewLimiter(rate.Every(defaultRetirePace), 1),
		trackTries: defaultTrackTries,
		trackWait:  defaultTrackBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DeliverTracked retires the tracked messages of (chatID, taskID), or of
// the whole chat when taskID is 0, then sends c and tracks it.
func (c *Coordinator) DeliverTracked(ctx context.Context, chatID, taskID int64, content kit.Content) (int, error) {
	if err := c.Retire(ctx, chatID, taskID); err != nil {
		c.log.Warn("retire before delivery failed", logx.Task(chatID, taskID), logx.Err(err))
	}
	return c.Send(ctx, chatID, taskID, content)
}

// Send sends content and tracks it without retiring anything first. Long
// text may go out as several messages; all of them are tracked and the
// first id, the one carrying the keyboard, is returned.
func (c *Coordinator) Send(ctx context.Context, chatID, taskID int64, content kit.Content) (int, error) {
	ids, err := c.send(ctx, chatID, taskID, content)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

func (c *Coordinator) send(ctx context.Context, chatID, taskID int64, content kit.Content) ([]int, error) {
	ids, err := c.msgr.Send(ctx, chatID, content)
	// chunks that made it out before a failure still need retiring later
	c.trackAll(ctx, chatID, taskID, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: send to chat %d: %v", ErrDelivery, chatID, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: send to chat %d: no message id", ErrDelivery, chatID)
	}
	return ids, nil
}

// DeliverTransient is DeliverTracked followed by a delete after ttl.
func (c *Coordinator) DeliverTransient(ctx context.Context, chatID, taskID int64, content kit.Content, ttl time.Duration) (int, error) {
	if err := c.Retire(ctx, chatID, taskID); err != nil {
		c.log.Warn("retire before delivery failed", logx.Task(chatID, taskID), logx.Err(err))
	}
	return c.SendTransient(ctx, chatID, taskID, content, ttl)
}

// SendTransient is Send followed by a delete after ttl. Nothing is retired,
// so a prompt the user is answering stays in place.
func (c *Coordinator) SendTransient(ctx context.Context, chatID, taskID int64, content kit.Content, ttl time.Duration) (int, error) {
	ids, err := c.send(ctx, chatID, taskID, content)
	if err != nil {
		return 0, err
	}
	if ttl > 0 && c.sup != nil {
		c.sup.After("messages.transient", ttl, func(ctx context.Context) {
			for _, id := range ids {
				c.drop(ctx, chatID, id)
			}
		})
	}
	return ids[0], nil
}

// Track records messages sent outside the coordinator, e.g. the overflow
// of an edited screen, so they are retired later.
func (c *Coordinator) Track(ctx context.Context, chatID, taskID int64, messageIDs ...int) {
	c.trackAll(ctx, chatID, taskID, messageIDs)
}

func (c *Coordinator) trackAll(ctx context.Context, chatID, taskID int64, ids []int) {
	now := time.Now()
	for _, id := range ids {
		c.track(ctx, domain.TrackedMessage{ChatID: chatID, MessageID: id, TaskID: taskID, CreatedAt: now})
	}
}

func (c *Coordinator) track(ctx context.Context, m domain.TrackedMessage) {
	var err error
	for attempt := 1; attempt <= c.trackTries; attempt++ {
		if err = c.store.AddTracked(ctx, m); err == nil {
			return
		}
		if attempt == c.trackTries {
			break
		}
		if !sleep(ctx, time.Duration(attempt)*c.trackWait) {
			break
		}
	}
	c.log.Error("track message failed", logx.Task(m.ChatID, m.TaskID), logx.Int("msg", m.MessageID), logx.Err(err))
}

// Retire deletes the tracked messages of (chatID, taskID), or of the whole
// chat when taskID is 0. It does nothing when the bot may not delete
// messages in the chat. A record is dropped only after its message is gone.
func (c *Coordinator) Retire(ctx context.Context, chatID, taskID int64) error {
	ok, err := c.msgr.CanDeleteMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("%w: permissions: %v", ErrDelivery, err)
	}
	if !ok {
		return nil
	}
	tracked, err := c.store.ListTracked(ctx, chatID, taskID)
	if err != nil {
		return err
	}
	for _, m := range tracked {
		if err := c.retire.Wait(ctx); err != nil {
			return err
		}
		c.drop(ctx, m.ChatID, m.MessageID)
	}
	return nil
}

func (c *Coordinator) drop(ctx context.Context, chatID int64, messageID int) {
	if err := c.msgr.Delete(ctx, chatID, messageID); err != nil {
		c.log.Debug("delete message failed", logx.Int64("chat", chatID), logx.Int("msg", messageID), logx.Err(err))
		return
	}
	if err := c.store.DeleteTracked(ctx, chatID, messageID); err != nil {
		c.log.Warn("untrack message failed", logx.Int64("chat", chatID), logx.Int("msg", messageID), logx.Err(err))
	}
}

// Pin makes messageID the pinned due alert of the task. A different
// message pinned earlier for the task is unpinned and its record removed
// first. The record is written even when the platform pin fails; the pin
// error is returned wrapped in ErrDelivery.
func (c *Coordinator) Pin(ctx context.Context, chatID, taskID int64, messageID int) error {
	prev, ok, err := c.store.GetPinned(ctx, chatID, taskID)
	if err != nil {
		return err
	}
	if ok && prev.MessageID != messageID {
		if err := c.msgr.Unpin(ctx, chatID, prev.MessageID); err != nil {
			c.log.Debug("unpin previous failed", logx.Task(chatID, taskID), logx.Err(err))
		}
		if err := c.store.DeletePinned(ctx, chatID, taskID); err != nil {
			return err
		}
	}

	pinErr := c.msgr.Pin(ctx, chatID, messageID)
	if err := c.store.SetPinned(ctx, domain.PinnedMessage{ChatID: chatID, TaskID: taskID, MessageID: messageID}); err != nil {
		return err
	}
	if pinErr != nil {
		return fmt.Errorf("%w: pin: %v", ErrDelivery, pinErr)
	}
	return nil
}

// Unpin unpins the task's due alert and drops its record. The message
// itself stays in the chat.
func (c *Coordinator) Unpin(ctx context.Context, chatID, taskID int64) error {
	p, ok, err := c.store.GetPinned(ctx, chatID, taskID)
	if err != nil || !ok {
		return err
	}
	if err := c.msgr.Unpin(ctx, chatID, p.MessageID); err != nil {
		c.log.Debug("unpin failed", logx.Task(chatID, taskID), logx.Err(err))
	}
	return c.store.DeletePinned(ctx, chatID, taskID)
}

// Dismiss unpins and deletes the task's due alert and drops its record.
func (c *Coordinator) Dismiss(ctx context.Context, chatID, taskID int64) error {
	p, ok, err := c.store.GetPinned(ctx, chatID, taskID)
	if err != nil || !ok {
		return err
	}
	if err := c.msgr.Unpin(ctx, chatID, p.MessageID); err != nil {
		c.log.Debug("unpin failed", logx.Task(chatID, taskID), logx.Err(err))
	}
	c.drop(ctx, chatID, p.MessageID)
	return c.store.DeletePinned(ctx, chatID, taskID)
}

// sleep waits d or until ctx is done. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
