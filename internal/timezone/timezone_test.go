package timezone

import (
	"errors"
	"testing"
	"time"

	"taskbot/internal/domain"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		cfg        *domain.GroupTimezone
		listing    Resolved
		scheduling Resolved
	}{
		{
			name:       "absent",
			cfg:        nil,
			listing:    Resolved{Offset: 5, Name: "Екатеринбург (UTC+5)"},
			scheduling: Resolved{Offset: 3, Name: "Москва (UTC+3)"},
		},
		{
			name:       "preset",
			cfg:        &domain.GroupTimezone{Zone: "novosib"},
			listing:    Resolved{Offset: 7, Name: "Новосибирск (UTC+7)"},
			scheduling: Resolved{Offset: 7, Name: "Новосибирск (UTC+7)"},
		},
		{
			name:       "unknown zone",
			cfg:        &domain.GroupTimezone{Zone: "mars"},
			listing:    Resolved{Offset: 5, Name: "Екатеринбург (UTC+5)"},
			scheduling: Resolved{Offset: 3, Name: "Москва (UTC+3)"},
		},
		{
			name:       "custom",
			cfg:        &domain.GroupTimezone{Zone: "custom", CustomName: "Тбилиси", CustomOffset: domain.Ptr(4)},
			listing:    Resolved{Offset: 4, Name: "Тбилиси"},
			scheduling: Resolved{Offset: 4, Name: "Тбилиси"},
		},
		{
			name:       "custom zero offset",
			cfg:        &domain.GroupTimezone{Zone: "custom", CustomName: "London", CustomOffset: domain.Ptr(0)},
			listing:    Resolved{Offset: 0, Name: "London"},
			scheduling: Resolved{Offset: 0, Name: "London"},
		},
		{
			name:       "custom name only",
			cfg:        &domain.GroupTimezone{Zone: "moscow", CustomName: "Офис"},
			listing:    Resolved{Offset: 3, Name: "Офис"},
			scheduling: Resolved{Offset: 3, Name: "Офис"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ForListing(tt.cfg); got != tt.listing {
				t.Fatalf("ForListing = %+v, want %+v", got, tt.listing)
			}
			if got := ForTask(tt.cfg); got != tt.scheduling {
				t.Fatalf("ForTask = %+v, want %+v", got, tt.scheduling)
			}
		})
	}
}

func TestOffsetFromLocalHour(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 1, 22, 15, 0, 0, time.UTC)
	tests := []struct {
		hour int
		want int
	}{
		{hour: 22, want: 0},
		{hour: 1, want: 3},   // 1-22 = -21 -> +3
		{hour: 10, want: -12},
		{hour: 11, want: -11},
		{hour: 20, want: -2},
	}
	for _, tt := range tests {
		got, err := OffsetFromLocalHour(tt.hour, now)
		if err != nil {
			t.Fatalf("hour %d: %v", tt.hour, err)
		}
		if got != tt.want {
			t.Fatalf("hour %d: got %d, want %d", tt.hour, got, tt.want)
		}
	}

	early := time.Date(2025, 7, 1, 2, 0, 0, 0, time.UTC)
	if got, _ := OffsetFromLocalHour(23, early); got != -3 {
		t.Fatalf("23 at 02 UTC: got %d, want -3", got)
	}

	for _, bad := range []int{-1, 24} {
		if _, err := OffsetFromLocalHour(bad, now); !errors.Is(err, ErrInvalidHour) {
			t.Fatalf("hour %d: err = %v", bad, err)
		}
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()
	if Label(5) != "UTC+5" || Label(-3) != "UTC-3" || Label(0) != "UTC+0" {
		t.Fatal("unexpected label")
	}
}
