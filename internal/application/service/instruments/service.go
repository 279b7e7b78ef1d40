package instruments

import (
	"context"
	"errors"
	"fmt"
	"sort"

	trading "algotrader/internal/domain/entity/trading"
	interfaces "algotrader/internal/domain/interfaces"
)

var (
	ErrNoInstruments       = errors.New("no instruments configured")
	ErrDuplicateInstrument = errors.New("duplicate instrument id")
	ErrDuplicateSymbol     = errors.New("duplicate trading symbol")
	ErrReadOnly            = errors.New("instrument store is read-only")
)

type Service struct {
	repo interfaces.InstrumentsRepository
}

func NewService(repo interfaces.InstrumentsRepository) *Service {
	return &Service{repo: repo}
}

// Load reads every configuration, applies defaults and rejects invalid or
// duplicated records. The result is sorted by instrument id.
func (s *Service) Load(ctx context.Context) ([]trading.InstrumentConfig, error) {
	configs, err := s.repo.ListConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instrument configs: %w", err)
	}
	return Validate(configs)
}

// Validate normalizes configs in place and checks them as a set.
func Validate(configs []trading.InstrumentConfig) ([]trading.InstrumentConfig, error) {
	if len(configs) == 0 {
		return nil, ErrNoInstruments
	}
	// Symbols key the engine's machines, candle series and p/l store.
	ids := make(map[string]struct{}, len(configs))
	symbols := make(map[string]string, len(configs))
	for i := range configs {
		if err := configs[i].Normalize(); err != nil {
			return nil, err
		}
		id, symbol := configs[i].InstrumentID, configs[i].TradingSymbol
		if _, dup := ids[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInstrument, id)
		}
		if other, dup := symbols[symbol]; dup {
			return nil, fmt.Errorf("%w: %s used by %s and %s", ErrDuplicateSymbol, symbol, other, id)
		}
		ids[id] = struct{}{}
		symbols[symbol] = id
	}
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].InstrumentID < configs[j].InstrumentID
	})
	return configs, nil
}

// Save validates and writes configs when the store supports writes.
func (s *Service) Save(ctx context.Context, configs []trading.InstrumentConfig) error {
	writer, ok := s.repo.(interfaces.InstrumentsWriter)
	if !ok {
		return ErrReadOnly
	}
	valid, err := Validate(configs)
	if err != nil {
		return err
	}
	return writer.UpsertConfigs(ctx, valid)
}

func (s *Service) Close() {
	s.repo.Close()
}
