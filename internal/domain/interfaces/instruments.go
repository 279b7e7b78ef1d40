package interfaces

import (
	"context"

	trading "algotrader/internal/domain/entity/trading"
)

// InstrumentsRepository is the read side of the instrument configuration store.
type InstrumentsRepository interface {
	ListConfigs(ctx context.Context) ([]trading.InstrumentConfig, error)
	Close()
}

// InstrumentsWriter is implemented by stores that accept configuration upserts.
type InstrumentsWriter interface {
	UpsertConfigs(ctx context.Context, configs []trading.InstrumentConfig) error
}
