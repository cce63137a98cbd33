package bot

import (
	"sync"
	"time"

	"taskbot/internal/domain"
)

// Step is what the bot expects next from a user in a chat.
type Step int

const (
	StepNone Step = iota
	StepTaskLine
	StepAssignee
	StepNewDate
	StepEditText
	StepEditDate
	StepZoneName
	StepZoneHour
	StepZoneConfirm
)

func (s Step) String() string {
	switch s {
	case StepTaskLine:
		return "task_line"
	case StepAssignee:
		return "assignee"
	case StepNewDate:
		return "new_date"
	case StepEditText:
		return "edit_text"
	case StepEditDate:
		return "edit_date"
	case StepZoneName:
		return "zone_name"
	case StepZoneHour:
		return "zone_hour"
	case StepZoneConfirm:
		return "zone_confirm"
	default:
		return "none"
	}
}

// Session is the conversation state of one user in one chat.
type Session struct {
	Step   Step
	TaskID int64
	// Input is text awaiting a yes/no confirmation (new text or date).
	Input    string
	ZoneName string
	// Zone is the timezone awaiting confirmation.
	Zone *domain.GroupTimezone
}

type sessionKey struct{ chat, user int64 }

type sessionEntry struct {
	s   Session
	exp time.Time
}

// Sessions is an in-memory TTL store of conversation state.
//
// Expired entries are swept at most once per cleanup interval rather than
// on every access.
type Sessions struct {
	mu sync.Mutex

	ttl             time.Duration
	max             int
	cleanupInterval time.Duration
	nextCleanup     time.Time
	now             func() time.Time

	m map[sessionKey]sessionEntry
}

// NewSessions creates a store. Defaults: ttl=30m, max=10000.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sessions{
		ttl:             ttl,
		max:             10000,
		cleanupInterval: time.Minute,
		now:             time.Now,
		m:               map[sessionKey]sessionEntry{},
	}
}

// SetTTL applies to sessions written from now on.
func (s *Sessions) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

// Get returns the live session of user in chat.
func (s *Sessions) Get(chat, user int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.maybeCleanupLocked(now)
	e, ok := s.m[sessionKey{chat, user}]
	if !ok {
		return Session{}, false
	}
	if now.After(e.exp) {
		delete(s.m, sessionKey{chat, user})
		return Session{}, false
	}
	return e.s, true
}

// Put stores sess and restarts its TTL. A StepNone session with no
// pending data is removed instead.
func (s *Sessions) Put(chat, user int64, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sessionKey{chat, user}
	if sess == (Session{}) {
		delete(s.m, k)
		return
	}
	now := s.now()
	s.maybeCleanupLocked(now)
	s.m[k] = sessionEntry{s: sess, exp: now.Add(s.ttl)}
	s.enforceMaxLocked()
}

// Update applies fn to the current (possibly empty) session and stores it.
func (s *Sessions) Update(chat, user int64, fn func(*Session)) Session {
	cur, _ := s.Get(chat, user)
	fn(&cur)
	s.Put(chat, user, cur)
	return cur
}

func (s *Sessions) Clear(chat, user int64) {
	s.mu.Lock()
	delete(s.m, sessionKey{chat, user})
	s.mu.Unlock()
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *Sessions) maybeCleanupLocked(now time.Time) {
	if s.nextCleanup.IsZero() {
		s.nextCleanup = now.Add(s.cleanupInterval)
		return
	}
	if now.Before(s.nextCleanup) {
		return
	}
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
	s.nextCleanup = now.Add(s.cleanupInterval)
}

// enforceMaxLocked evicts arbitrary entries beyond max.
func (s *Sessions) enforceMaxLocked() {
	over := len(s.m) - s.max
	for k := range s.m {
		if over <= 0 {
			return
		}
		delete(s.m, k)
		over--
	}
}
