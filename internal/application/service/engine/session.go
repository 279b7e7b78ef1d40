package engine

import (
	"fmt"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// Session decides which ticks are processed and when order actions stop.
// Times are minutes after local midnight.
type Session struct {
	loc     *time.Location
	start   int
	cutoffs map[string]int
	global  int
}

// NewSession parses HH:MM clock values. cutoffs maps an exchange code to its
// last minute for order actions; exchanges without an entry use global.
func NewSession(loc *time.Location, start string, cutoffs map[string]string, global string) (*Session, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Session{loc: loc, cutoffs: make(map[string]int, len(cutoffs))}
	var err error
	if s.start, err = parseClock(start); err != nil {
		return nil, fmt.Errorf("session start: %w", err)
	}
	if s.global, err = parseClock(global); err != nil {
		return nil, fmt.Errorf("global cutoff: %w", err)
	}
	for exchange, value := range cutoffs {
		minutes, err := parseClock(value)
		if err != nil {
			return nil, fmt.Errorf("cutoff for %s: %w", exchange, err)
		}
		s.cutoffs[strings.ToUpper(exchange)] = minutes
	}
	return s, nil
}

// Local converts t into the session time zone.
func (s *Session) Local(t time.Time) time.Time {
	return t.In(s.loc)
}

// Open reports whether t is at or after the session start.
func (s *Session) Open(t time.Time) bool {
	return minuteOfDay(s.Local(t)) >= s.start
}

// ActionsAllowed reports whether order actions may run for exchange at t.
// Candle building continues regardless.
func (s *Session) ActionsAllowed(exchange string, t time.Time) bool {
	cutoff := s.global
	if c, ok := s.cutoffs[strings.ToUpper(exchange)]; ok && c < cutoff {
		cutoff = c
	}
	m := minuteOfDay(s.Local(t))
	return m >= s.start && m < cutoff
}

// Day returns the local trading date of t.
func (s *Session) Day(t time.Time) string {
	return s.Local(t).Format(dayLayout)
}

func (s *Session) Location() *time.Location {
	return s.loc
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", value, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
