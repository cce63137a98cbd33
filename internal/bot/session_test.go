package bot

import (
	"testing"
	"time"
)

func TestSessionsExpire(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessions(time.Minute)
	s.now = func() time.Time { return now }

	s.Put(1, 2, Session{Step: StepTaskLine})
	if got, ok := s.Get(1, 2); !ok || got.Step != StepTaskLine {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
	if _, ok := s.Get(1, 3); ok {
		t.Fatal("sessions are per user")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := s.Get(1, 2); ok {
		t.Fatal("expired session returned")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d after expiry", s.Len())
	}
}

func TestSessionsPutZeroDeletes(t *testing.T) {
	t.Parallel()
	s := NewSessions(0)
	s.Put(1, 2, Session{Step: StepAssignee, TaskID: 7})
	s.Put(1, 2, Session{})
	if s.Len() != 0 {
		t.Fatal("empty session must not be stored")
	}

	// Input without a step is kept for the confirmation buttons.
	s.Put(1, 2, Session{TaskID: 7, Input: "new text"})
	if got, ok := s.Get(1, 2); !ok || got.Input != "new text" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
}

func TestSessionsUpdate(t *testing.T) {
	t.Parallel()
	s := NewSessions(time.Hour)
	got := s.Update(5, 6, func(sess *Session) {
		sess.Step = StepZoneHour
		sess.ZoneName = "Самара"
	})
	if got.Step != StepZoneHour {
		t.Fatalf("Update returned %+v", got)
	}
	s.Update(5, 6, func(sess *Session) { sess.Step = StepZoneConfirm })
	if cur, _ := s.Get(5, 6); cur.ZoneName != "Самара" || cur.Step != StepZoneConfirm {
		t.Fatalf("Update lost fields: %+v", cur)
	}
	s.Clear(5, 6)
	if _, ok := s.Get(5, 6); ok {
		t.Fatal("Clear kept the session")
	}
}

func TestSessionsEvictBeyondMax(t *testing.T) {
	t.Parallel()
	s := NewSessions(time.Hour)
	s.max = 3
	for i := int64(0); i < 10; i++ {
		s.Put(1, i, Session{Step: StepTaskLine})
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
}

func TestStepString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		step Step
		want string
	}{
		{StepNone, "none"},
		{StepTaskLine, "task_line"},
		{StepNewDate, "new_date"},
		{StepZoneConfirm, "zone_confirm"},
		{Step(99), "none"},
	}
	for _, tt := range tests {
		if got := tt.step.String(); got != tt.want {
			t.Errorf("Step(%d).String() = %q, want %q", int(tt.step), got, tt.want)
		}
	}
}
