package engine

import (
	"testing"
	"time"
)

func TestSessionGating(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	s, err := NewSession(loc, "09:00", map[string]string{"NSE": "15:00", "mcx": "23:30"}, "23:00")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.Location() != loc {
		t.Fatalf("location = %v", s.Location())
	}
	local := func(h, m int) time.Time {
		return time.Date(2024, 10, 1, h, m, 0, 0, loc)
	}

	tests := []struct {
		name     string
		exchange string
		at       time.Time
		open     bool
		actions  bool
	}{
		{"before start", "NSE", local(8, 59), false, false},
		{"at start", "NSE", local(9, 0), true, true},
		{"before exchange cutoff", "NSE", local(14, 59), true, true},
		{"at exchange cutoff", "NSE", local(15, 0), true, false},
		{"unknown exchange uses global", "BSE", local(22, 59), true, true},
		{"global cutoff", "BSE", local(23, 0), true, false},
		{"exchange later than global", "MCX", local(23, 10), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Open(tt.at); got != tt.open {
				t.Fatalf("Open = %v, want %v", got, tt.open)
			}
			if got := s.ActionsAllowed(tt.exchange, tt.at); got != tt.actions {
				t.Fatalf("ActionsAllowed = %v, want %v", got, tt.actions)
			}
		})
	}
}

func TestSessionUsesLocalZone(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	s, err := NewSession(loc, "09:00", nil, "23:00")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	// 03:40 UTC is 09:10 in IST
	utc := time.Date(2024, 10, 1, 3, 40, 0, 0, time.UTC)
	if !s.Open(utc) {
		t.Fatal("expected session open")
	}
	if day := s.Day(time.Date(2024, 10, 1, 20, 0, 0, 0, time.UTC)); day != "2024-10-02" {
		t.Fatalf("day = %s, want 2024-10-02", day)
	}
}

func TestSessionRejectsBadClock(t *testing.T) {
	if _, err := NewSession(time.UTC, "9am", nil, "23:00"); err == nil {
		t.Fatal("expected error for bad start")
	}
	if _, err := NewSession(time.UTC, "09:00", map[string]string{"NSE": "25:00"}, "23:00"); err == nil {
		t.Fatal("expected error for bad cutoff")
	}
}
