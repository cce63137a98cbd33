// Package datetime parses the free-form date/time strings users type when
// creating or rescheduling a task.
package datetime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrInvalidFormat means the text could not be read as a date and time.
	ErrInvalidFormat = errors.New("invalid date/time format")
	// ErrPastDate means the parsed instant is earlier than now.
	ErrPastDate = errors.New("date is in the past")
)

// Layout is the canonical rendering of a local due time.
const Layout = "02.01.2006 15:04"

// Examples lists the accepted input grammars, shown when re-prompting.
var Examples = []string{
	"10.07.2025 13:26",
	"10072025 1326",
	"10.072025 13.26",
	"10-07-2025 13-26",
}

// Parse reads "<date> <time>" in the user's local time (utcOffsetHours) and
// returns the corresponding UTC instant.
//
// Date forms, tried in order:
//   - "D.M.Y", or the condensed "D.MMY" (second field: 2-digit month + year)
//   - "D-M-Y"
//   - "DDMMYYYY"
//
// Time: ':', '.' and '-' are stripped; 3 digits are left-padded ("930" -> 09:30).
func Parse(input string, utcOffsetHours int, now time.Time) (time.Time, error) {
	datePart, timePart, err := split(input)
	if err != nil {
		return time.Time{}, err
	}

	day, month, year, err := parseDate(datePart)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := parseClock(timePart)
	if err != nil {
		return time.Time{}, err
	}

	if year < 1 || year > 9999 || month < 1 || month > 12 || day < 1 {
		return time.Time{}, fmt.Errorf("%w: no such date %02d.%02d.%d", ErrInvalidFormat, day, month, year)
	}
	local := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	// time.Date normalises overflow (31 April -> 1 May); reject it instead.
	if local.Day() != day || int(local.Month()) != month || local.Year() != year {
		return time.Time{}, fmt.Errorf("%w: no such date %02d.%02d.%d", ErrInvalidFormat, day, month, year)
	}

	utc := local.Add(-time.Duration(utcOffsetHours) * time.Hour)
	if utc.Before(now) {
		return time.Time{}, ErrPastDate
	}
	return utc, nil
}

// Format renders a UTC instant as local "DD.MM.YYYY HH:MM".
func Format(t time.Time, utcOffsetHours int) string {
	return t.UTC().Add(time.Duration(utcOffsetHours) * time.Hour).Format(Layout)
}

func split(input string) (string, string, error) {
	s := strings.TrimSpace(input)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return "", "", fmt.Errorf("%w: expected \"<date> <time>\"", ErrInvalidFormat)
	}
	datePart := strings.TrimSpace(s[:i])
	timePart := strings.TrimSpace(s[i:])
	if timePart == "" || strings.IndexFunc(timePart, unicode.IsSpace) >= 0 {
		return "", "", fmt.Errorf("%w: expected \"<date> <time>\"", ErrInvalidFormat)
	}
	return datePart, timePart, nil
}

func parseDate(s string) (day, month, year int, err error) {
	var d, m, y string
	switch {
	case strings.Contains(s, "."):
		parts := strings.Split(s, ".")
		switch len(parts) {
		case 3:
			d, m, y = parts[0], parts[1], parts[2]
		case 2:
			if len(parts[1]) < 2 {
				return 0, 0, 0, fmt.Errorf("%w: date %q", ErrInvalidFormat, s)
			}
			d, m, y = parts[0], parts[1][:2], parts[1][2:]
		default:
			return 0, 0, 0, fmt.Errorf("%w: date %q", ErrInvalidFormat, s)
		}
	case strings.Contains(s, "-"):
		parts := strings.Split(s, "-")
		if len(parts) != 3 {
			return 0, 0, 0, fmt.Errorf("%w: date %q", ErrInvalidFormat, s)
		}
		d, m, y = parts[0], parts[1], parts[2]
	default:
		if len(s) < 5 {
			return 0, 0, 0, fmt.Errorf("%w: date %q", ErrInvalidFormat, s)
		}
		d, m, y = s[:2], s[2:4], s[4:]
	}

	if day, err = atoi(d); err != nil {
		return 0, 0, 0, err
	}
	if month, err = atoi(m); err != nil {
		return 0, 0, 0, err
	}
	if year, err = atoi(y); err != nil {
		return 0, 0, 0, err
	}
	return day, month, year, nil
}

func parseClock(s string) (hour, minute int, err error) {
	digits := strings.NewReplacer(":", "", ".", "", "-", "").Replace(s)
	if len(digits) == 3 {
		digits = "0" + digits
	}
	if len(digits) < 4 {
		return 0, 0, fmt.Errorf("%w: time %q", ErrInvalidFormat, s)
	}
	if hour, err = atoi(digits[:2]); err != nil {
		return 0, 0, err
	}
	if minute, err = atoi(digits[2:4]); err != nil {
		return 0, 0, err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time %02d:%02d out of range", ErrInvalidFormat, hour, minute)
	}
	return hour, minute, nil
}

func atoi(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidFormat, s)
	}
	return n, nil
}
