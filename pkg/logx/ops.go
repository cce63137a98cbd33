package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sink delivers a formatted log line to an ops chat.
type Sink interface {
	SendLog(ctx context.Context, chatID int64, text string) error
}

const (
	opsQueueSize   = 256
	opsSendTimeout = 10 * time.Second
	opsLineMax     = 3500
	opsValueMax    = 600
	opsStackMax    = 900
)

type opsLine struct {
	chatID int64
	text   string
}

// opsMirror is a zerolog writer that forwards lines at or above a level
// to an ops chat. Lines are rate limited and sent from a single worker;
// when the queue is full they are dropped so logging never blocks.
type opsMirror struct {
	mu       sync.Mutex
	enabled  bool
	sink     Sink
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan opsLine
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newOpsMirror() *opsMirror {
	return &opsMirror{queue: make(chan opsLine, opsQueueSize)}
}

func (m *opsMirror) setSink(sink Sink, chatID int64) {
	m.mu.Lock()
	m.sink = sink
	m.chatID = chatID
	m.mu.Unlock()
}

// configure reports whether the mirror should be part of the outputs.
func (m *opsMirror) configure(cfg TelegramConfig) bool {
	rps := max(1, cfg.RatePerSec)

	m.mu.Lock()
	m.enabled = cfg.Enabled
	m.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	m.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	chatID := m.chatID
	m.mu.Unlock()

	if !cfg.Enabled {
		return false
	}
	m.once.Do(m.startWorker)
	if chatID == 0 {
		fmt.Fprintln(os.Stderr, "logx: telegram logging enabled but telegram.log_chat is not set")
	}
	return true
}

func (m *opsMirror) startWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case l := <-m.queue:
				m.mu.Lock()
				sink := m.sink
				m.mu.Unlock()
				if sink == nil {
					continue
				}
				sctx, scancel := context.WithTimeout(ctx, opsSendTimeout)
				_ = sink.SendLog(sctx, l.chatID, l.text)
				scancel()
			}
		}
	}()
}

func (m *opsMirror) stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *opsMirror) Write(p []byte) (int, error) {
	return m.WriteLevel(zerolog.InfoLevel, p)
}

func (m *opsMirror) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	m.mu.Lock()
	ok := m.enabled && m.sink != nil && m.chatID != 0 && level >= m.minLevel && m.limiter.Allow()
	chatID := m.chatID
	m.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if text := formatOpsLine(p); text != "" {
		select {
		case m.queue <- opsLine{chatID: chatID, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatOpsLine renders a zerolog JSON line as "[LEVEL] message" followed
// by one "- key=value" line per field, keys sorted. Non-JSON input is sent
// as is.
func formatOpsLine(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(string(p), opsLineMax)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if k == "stack" {
			b.WriteString("\n- stack=\n" + truncate(v, opsStackMax))
			continue
		}
		b.WriteString("\n- " + k + "=" + truncate(v, opsValueMax))
	}
	return truncate(b.String(), opsLineMax)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
