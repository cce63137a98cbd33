// Package timezone resolves the effective UTC offset and display name for
// a chat from its stored preference.
package timezone

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskbot/internal/domain"
)

// Zone names a preset timezone.
type Zone string

const (
	Moscow  Zone = "moscow"
	Ekb     Zone = "ekb"
	Novosib Zone = "novosib"
	Custom  Zone = "custom"
)

// ErrInvalidHour is returned for a local hour outside 0..23.
var ErrInvalidHour = errors.New("hour must be between 0 and 23")

type preset struct {
	offset int
	name   string
}

var presets = map[Zone]preset{
	Moscow:  {offset: 3, name: "Москва (UTC+3)"},
	Ekb:     {offset: 5, name: "Екатеринбург (UTC+5)"},
	Novosib: {offset: 7, name: "Новосибирск (UTC+7)"},
}

// Presets returns the named zones in menu order.
func Presets() []Zone { return []Zone{Moscow, Ekb, Novosib} }

// Known reports whether z is a preset zone.
func Known(z Zone) bool {
	_, ok := presets[z]
	return ok
}

// Name returns the display name of a preset zone, or "" for unknown zones.
func Name(z Zone) string { return presets[z].name }

// Offset returns the UTC offset of a preset zone.
func Offset(z Zone) (int, bool) {
	p, ok := presets[z]
	return p.offset, ok
}

// Resolved is the effective timezone of a chat.
type Resolved struct {
	Offset int
	Name   string
}

// Resolve picks the offset and name for cfg.
//
// A custom offset wins over the zone offset and a custom name wins over the
// zone label. A missing config or an unrecognised zone falls back to the
// fallback preset.
func Resolve(cfg *domain.GroupTimezone, fallback Zone) Resolved {
	fb := presets[fallback]
	if cfg == nil {
		return Resolved{Offset: fb.offset, Name: fb.name}
	}
	p, ok := presets[Zone(strings.TrimSpace(cfg.Zone))]
	if !ok {
		p = fb
	}
	out := Resolved{Offset: p.offset, Name: p.name}
	if cfg.CustomOffset != nil {
		out.Offset = *cfg.CustomOffset
	}
	if name := strings.TrimSpace(cfg.CustomName); name != "" {
		out.Name = name
	}
	return out
}

// ForListing resolves the timezone used by the task list (default ekb).
func ForListing(cfg *domain.GroupTimezone) Resolved { return Resolve(cfg, Ekb) }

// ForTask resolves the timezone used when scheduling, creating, editing
// and rescheduling tasks (default moscow).
func ForTask(cfg *domain.GroupTimezone) Resolved { return Resolve(cfg, Moscow) }

// OffsetFromLocalHour derives a UTC offset from the hour a user reports as
// their current local time. The result is normalised into [-12, +12].
func OffsetFromLocalHour(hour int, now time.Time) (int, error) {
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidHour, hour)
	}
	off := hour - now.UTC().Hour()
	switch {
	case off > 12:
		off -= 24
	case off < -12:
		off += 24
	}
	return off, nil
}

// Label renders an offset as "UTC+5" / "UTC-3".
func Label(offset int) string {
	if offset < 0 {
		return fmt.Sprintf("UTC%d", offset)
	}
	return fmt.Sprintf("UTC+%d", offset)
}
