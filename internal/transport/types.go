// Package transport defines the chat-platform boundary: inbound updates
// and the Messenger used to send, edit, delete and pin messages.
package transport

import (
	"context"
	"errors"
)

// ErrMessageGone means the target message no longer exists. Delete treats
// it as success; callers of Edit may fall back to sending a new message.
var ErrMessageGone = errors.New("message not found")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
	IsGroup   bool
}

// Button is an inline keyboard button carrying callback data, or a link
// when URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Keyboard is an inline keyboard, one slice per row.
type Keyboard [][]Button

// Content is an outgoing message body.
type Content struct {
	Text     string
	HTML     bool
	Keyboard Keyboard
}

// Messenger is the outbound side of the chat platform.
type Messenger interface {
	// Send returns the ids of every message it sent, in order. Text over
	// the platform limit goes out as several messages, the keyboard on the
	// first. On error the ids sent before the failure are still returned.
	Send(ctx context.Context, chatID int64, c Content) (messageIDs []int, err error)
	// Edit rewrites messageID and returns the ids of any overflow messages
	// sent after it.
	Edit(ctx context.Context, chatID int64, messageID int, c Content) (extraIDs []int, err error)
	// Delete is a no-op when the message is already gone.
	Delete(ctx context.Context, chatID int64, messageID int) error
	Pin(ctx context.Context, chatID int64, messageID int) error
	// Unpin is a no-op when the message is no longer pinned.
	Unpin(ctx context.Context, chatID int64, messageID int) error
	// CanDeleteMessages reports whether the bot may delete other messages in chatID.
	CanDeleteMessages(ctx context.Context, chatID int64) (bool, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Source produces inbound updates until stopped.
type Source interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand is a single entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by transports with a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
