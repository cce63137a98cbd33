package tgui

import kit "taskbot/internal/transport"

// Inline is a small builder for inline keyboards.
type Inline struct {
	rows kit.Keyboard
}

func NewInline() *Inline { return &Inline{} }

// Row appends a row of buttons. Empty rows are skipped.
func (i *Inline) Row(btn ...kit.Button) *Inline {
	if len(btn) > 0 {
		i.rows = append(i.rows, btn)
	}
	return i
}

// Keyboard returns the built keyboard.
func (i *Inline) Keyboard() kit.Keyboard { return i.rows }

// Btn creates a callback button with raw callback data.
func Btn(text, data string) kit.Button {
	return kit.Button{Text: text, Data: data}
}

// URLBtn creates a link button.
func URLBtn(text, url string) kit.Button {
	return kit.Button{Text: text, URL: url}
}

// Grid splits buttons into rows of n columns.
func Grid(n int, buttons ...kit.Button) kit.Keyboard {
	if n <= 0 {
		n = 1
	}
	kb := make(kit.Keyboard, 0, (len(buttons)+n-1)/n)
	for len(buttons) > 0 {
		k := min(n, len(buttons))
		kb = append(kb, append([]kit.Button(nil), buttons[:k]...))
		buttons = buttons[k:]
	}
	return kb
}
