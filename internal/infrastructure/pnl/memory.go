package pnl

import (
	"context"
	"sync"
)

// MemoryStore is a process-local P/L store used when Redis is not configured.
type MemoryStore struct {
	mu   sync.RWMutex
	days map[string]map[string]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{days: make(map[string]map[string]float64)}
}

func (s *MemoryStore) SetPoints(_ context.Context, day, symbol string, points float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.days[day] == nil {
		// one day at a time: older days are dropped on rollover
		s.days = map[string]map[string]float64{day: {}}
	}
	s.days[day][symbol] = points
	return nil
}

func (s *MemoryStore) GetPoints(_ context.Context, day string, symbols []string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		if v, ok := s.days[day][symbol]; ok {
			out[symbol] = v
		}
	}
	return out, nil
}
