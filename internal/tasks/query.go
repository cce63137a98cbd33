package tasks

import (
	"context"
	"time"

	"taskbot/internal/domain"
	"taskbot/internal/timezone"
)

// Badge is the status shown next to a task in the list.
type Badge int

const (
	BadgeActive  Badge = iota // due in more than 24h
	BadgeSoon                 // due within 24h
	BadgeOverdue              // past due
)

// BadgeAt classifies due relative to now.
func BadgeAt(due, now time.Time) Badge {
	switch {
	case due.Before(now):
		return BadgeOverdue
	case due.Sub(now) < 24*time.Hour:
		return BadgeSoon
	default:
		return BadgeActive
	}
}

// Item is a task with everything needed to render it.
type Item struct {
	domain.Task
	Assignees []string
	Badge     Badge
}

// Listing is the task list of a chat.
type Listing struct {
	Zone  timezone.Resolved
	Now   time.Time
	Items []Item
}

// List returns the chat's tasks due after now-24h, earliest first, rendered
// in the listing timezone.
func (s *Service) List(ctx context.Context, chatID int64) (Listing, error) {
	cfg, err := s.store.GetGroupTimezone(ctx, chatID)
	if err != nil {
		return Listing{}, err
	}
	now := s.now().UTC()
	list, err := s.store.ListChatTasks(ctx, chatID, now.Add(-ListWindow))
	if err != nil {
		return Listing{}, err
	}
	out := Listing{Zone: timezone.ForListing(cfg), Now: now, Items: make([]Item, 0, len(list))}
	for _, t := range list {
		as, err := s.store.ListAssignees(ctx, t.ID)
		if err != nil {
			return Listing{}, err
		}
		out.Items = append(out.Items, Item{Task: t, Assignees: as, Badge: BadgeAt(t.Due, now)})
	}
	return out, nil
}

// Card is a single task rendered in its chat's task timezone.
type Card struct {
	Item
	Zone timezone.Resolved
}

// View returns one task of chatID with its assignees.
func (s *Service) View(ctx context.Context, chatID, id int64) (Card, error) {
	t, err := s.Get(ctx, chatID, id)
	if err != nil {
		return Card{}, err
	}
	as, err := s.store.ListAssignees(ctx, id)
	if err != nil {
		return Card{}, err
	}
	tz, err := s.Zone(ctx, chatID)
	if err != nil {
		return Card{}, err
	}
	return Card{Item: Item{Task: t, Assignees: as, Badge: BadgeAt(t.Due, s.now().UTC())}, Zone: tz}, nil
}

// SetZone stores a preset zone for the chat, clearing any custom override.
func (s *Service) SetZone(ctx context.Context, chatID int64, zone timezone.Zone) (timezone.Resolved, error) {
	if !timezone.Known(zone) {
		return timezone.Resolved{}, ErrUnknownZone
	}
	cfg := domain.GroupTimezone{ChatID: chatID, Zone: string(zone)}
	if err := s.store.SetGroupTimezone(ctx, cfg); err != nil {
		return timezone.Resolved{}, err
	}
	return timezone.ForTask(&cfg), nil
}

// CustomZone computes, without storing, the zone a user describes by name
// and current local hour.
func (s *Service) CustomZone(name string, localHour int) (domain.GroupTimezone, error) {
	off, err := timezone.OffsetFromLocalHour(localHour, s.now())
	if err != nil {
		return domain.GroupTimezone{}, err
	}
	return domain.GroupTimezone{Zone: string(timezone.Custom), CustomName: name, CustomOffset: &off}, nil
}

// SetCustomZone stores a named custom offset derived from the user's
// current local hour.
func (s *Service) SetCustomZone(ctx context.Context, chatID int64, name string, localHour int) (timezone.Resolved, error) {
	cfg, err := s.CustomZone(name, localHour)
	if err != nil {
		return timezone.Resolved{}, err
	}
	return s.SetGroupZone(ctx, chatID, cfg)
}

// SetGroupZone stores cfg as the chat's timezone.
func (s *Service) SetGroupZone(ctx context.Context, chatID int64, cfg domain.GroupTimezone) (timezone.Resolved, error) {
	cfg.ChatID = chatID
	if err := s.store.SetGroupTimezone(ctx, cfg); err != nil {
		return timezone.Resolved{}, err
	}
	return timezone.ForTask(&cfg), nil
}

// Assignees lists the task's assignees.
func (s *Service) Assignees(ctx context.Context, id int64) ([]string, error) {
	return s.store.ListAssignees(ctx, id)
}
