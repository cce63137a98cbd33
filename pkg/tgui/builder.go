package tgui

import (
	"strings"

	kit "taskbot/internal/transport"
)

// Builder assembles an HTML message line by line.
type Builder struct {
	lines []string
	kb    kit.Keyboard
}

func New() *Builder { return &Builder{} }

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e := strings.TrimSpace(emoji); e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
		return b
	}
	b.lines = append(b.lines, B(t).String())
	return b
}

// Line adds an escaped line. An empty s adds a blank line.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// RawLine appends a line that is already safe HTML.
func (b *Builder) RawLine(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// KV adds "<emoji> <b>key:</b> value" with value escaped.
func (b *Builder) KV(emoji, key, value string) *Builder {
	line := B(key+":").String() + " " + Esc(value).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = e + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Inline attaches an inline keyboard.
func (b *Builder) Inline(kb kit.Keyboard) *Builder {
	b.kb = kb
	return b
}

// Build produces HTML content ready to send or edit.
func (b *Builder) Build() kit.Content {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	return kit.Content{Text: text, HTML: true, Keyboard: b.kb}
}
