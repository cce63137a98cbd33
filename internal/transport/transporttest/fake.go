// Package transporttest provides an in-memory Messenger for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	kit "taskbot/internal/transport"
)

// ErrInjected is returned by calls configured to fail.
var ErrInjected = errors.New("injected failure")

// Sent is a message delivered through the fake.
type Sent struct {
	ChatID    int64
	MessageID int
	Content   kit.Content
}

// Messenger records every call. Messages are numbered from 1 per fake.
type Messenger struct {
	mu sync.Mutex

	nextID   int
	sent     []Sent
	live     map[int]Sent
	edits    map[int]kit.Content
	deleted  []int
	pinned   map[int64]map[int]bool
	unpinned []int
	answers  []string

	// Knobs, set before use.
	FailSend     bool
	FailPin      bool
	FailDelete   bool
	CannotDelete bool
	// ChunkLimit splits longer texts into several messages of at most
	// that many runes. 0 sends every text as one message.
	ChunkLimit int
}

func NewMessenger() *Messenger {
	return &Messenger{
		live:   map[int]Sent{},
		edits:  map[int]kit.Content{},
		pinned: map[int64]map[int]bool{},
	}
}

var _ kit.Messenger = (*Messenger)(nil)

func (m *Messenger) Send(_ context.Context, chatID int64, c kit.Content) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSend {
		return nil, ErrInjected
	}
	parts := m.chunks(c.Text)
	ids := make([]int, 0, len(parts))
	for i, p := range parts {
		part := kit.Content{Text: p, HTML: c.HTML}
		if i == 0 {
			part.Keyboard = c.Keyboard
		}
		ids = append(ids, m.add(chatID, part))
	}
	return ids, nil
}

func (m *Messenger) Edit(_ context.Context, chatID int64, messageID int, c kit.Content) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[messageID]; !ok {
		return nil, kit.ErrMessageGone
	}
	parts := m.chunks(c.Text)
	first := c
	first.Text = parts[0]
	m.edits[messageID] = first
	var extra []int
	for _, p := range parts[1:] {
		extra = append(extra, m.add(chatID, kit.Content{Text: p, HTML: c.HTML}))
	}
	return extra, nil
}

func (m *Messenger) add(chatID int64, c kit.Content) int {
	m.nextID++
	s := Sent{ChatID: chatID, MessageID: m.nextID, Content: c}
	m.sent = append(m.sent, s)
	m.live[s.MessageID] = s
	return s.MessageID
}

func (m *Messenger) chunks(text string) []string {
	rs := []rune(text)
	if m.ChunkLimit <= 0 || len(rs) <= m.ChunkLimit {
		return []string{text}
	}
	var out []string
	for len(rs) > m.ChunkLimit {
		out = append(out, string(rs[:m.ChunkLimit]))
		rs = rs[m.ChunkLimit:]
	}
	if len(rs) > 0 {
		out = append(out, string(rs))
	}
	return out
}

func (m *Messenger) Delete(_ context.Context, chatID int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete {
		return ErrInjected
	}
	if _, ok := m.live[messageID]; ok {
		delete(m.live, messageID)
		m.deleted = append(m.deleted, messageID)
	}
	if p := m.pinned[chatID]; p != nil {
		delete(p, messageID)
	}
	return nil
}

func (m *Messenger) Pin(_ context.Context, chatID int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPin {
		return ErrInjected
	}
	if m.pinned[chatID] == nil {
		m.pinned[chatID] = map[int]bool{}
	}
	m.pinned[chatID][messageID] = true
	return nil
}

func (m *Messenger) Unpin(_ context.Context, chatID int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.pinned[chatID]; p != nil && p[messageID] {
		delete(p, messageID)
		m.unpinned = append(m.unpinned, messageID)
	}
	return nil
}

func (m *Messenger) CanDeleteMessages(context.Context, int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.CannotDelete, nil
}

func (m *Messenger) AnswerCallback(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

// Sent returns every successful send in order.
func (m *Messenger) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// Last returns the most recent send.
func (m *Messenger) Last() (Sent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Sent{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// Live reports whether messageID was sent and not deleted.
func (m *Messenger) Live(messageID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[messageID]
	return ok
}

// Deleted returns deleted message ids in order.
func (m *Messenger) Deleted() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.deleted...)
}

// Pinned reports whether messageID is pinned in chatID.
func (m *Messenger) Pinned(chatID int64, messageID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinned[chatID][messageID]
}

// Unpinned returns unpinned message ids in order.
func (m *Messenger) Unpinned() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.unpinned...)
}

// Edited returns the last edit applied to messageID.
func (m *Messenger) Edited(messageID int) (kit.Content, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.edits[messageID]
	return c, ok
}

// Answers returns callback answers in order.
func (m *Messenger) Answers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.answers...)
}
