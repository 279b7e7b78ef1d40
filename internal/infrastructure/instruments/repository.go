package instruments

import (
	"context"
	"errors"
	"fmt"

	trading "algotrader/internal/domain/entity/trading"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInstrumentNotFound = errors.New("instrument not found")

// Repository reads and writes trade_configurations in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

const createConfigsTable = `
	CREATE TABLE IF NOT EXISTS trade_configurations (
		instrument_id         TEXT             PRIMARY KEY,
		trading_symbol        TEXT             NOT NULL,
		exchange              TEXT             NOT NULL,
		lot_size              BIGINT           NOT NULL,
		breakout_percentage   DOUBLE PRECISION NOT NULL,
		exit_threshold_points DOUBLE PRECISION NOT NULL DEFAULT 0,
		interval_minutes      INTEGER          NOT NULL,
		trade_side            TEXT             NOT NULL DEFAULT 'BOTH',
		product               TEXT             NOT NULL DEFAULT 'MIS',
		updated_at            TIMESTAMPTZ      NOT NULL DEFAULT now()
	)`

// EnsureSchema creates trade_configurations when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createConfigsTable); err != nil {
		return fmt.Errorf("create trade_configurations: %w", err)
	}
	return nil
}

const selectConfigColumns = `
	SELECT instrument_id, trading_symbol, exchange, lot_size, breakout_percentage,
	       exit_threshold_points, interval_minutes, trade_side, product
	FROM trade_configurations`

func (r *Repository) ListConfigs(ctx context.Context) ([]trading.InstrumentConfig, error) {
	rows, err := r.pool.Query(ctx, selectConfigColumns+` ORDER BY instrument_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []trading.InstrumentConfig
	for rows.Next() {
		var cfg trading.InstrumentConfig
		if err := scanConfigInto(rows, &cfg); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (r *Repository) GetConfig(ctx context.Context, instrumentID string) (*trading.InstrumentConfig, error) {
	return r.getConfigWith(ctx, r.pool, instrumentID)
}

// UpsertConfigs writes every record in one transaction.
func (r *Repository) UpsertConfigs(ctx context.Context, configs []trading.InstrumentConfig) error {
	if len(configs) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, cfg := range configs {
			batch.Queue(`
				INSERT INTO trade_configurations (
					instrument_id, trading_symbol, exchange, lot_size, breakout_percentage,
					exit_threshold_points, interval_minutes, trade_side, product
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				ON CONFLICT (instrument_id) DO UPDATE
				SET trading_symbol = EXCLUDED.trading_symbol,
				    exchange = EXCLUDED.exchange,
				    lot_size = EXCLUDED.lot_size,
				    breakout_percentage = EXCLUDED.breakout_percentage,
				    exit_threshold_points = EXCLUDED.exit_threshold_points,
				    interval_minutes = EXCLUDED.interval_minutes,
				    trade_side = EXCLUDED.trade_side,
				    product = EXCLUDED.product,
				    updated_at = now()`,
				cfg.InstrumentID,
				cfg.TradingSymbol,
				cfg.Exchange,
				cfg.LotSize,
				cfg.BreakoutPercentage,
				cfg.ExitThresholdPoints,
				cfg.IntervalMinutes,
				string(cfg.TradeSide),
				cfg.Product,
			)
		}
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("upsert %s: %w", configs[i].InstrumentID, err)
			}
		}
		return results.Close()
	})
}

func (r *Repository) DeleteConfig(ctx context.Context, instrumentID string) error {
	return r.deleteConfigWith(ctx, r.pool, instrumentID)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type commandTagExecutor interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func (r *Repository) withTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) getConfigWith(ctx context.Context, runner queryRower, instrumentID string) (*trading.InstrumentConfig, error) {
	row := runner.QueryRow(ctx, selectConfigColumns+` WHERE instrument_id = $1`, instrumentID)
	cfg := &trading.InstrumentConfig{}
	if err := scanConfigInto(row, cfg); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstrumentNotFound
		}
		return nil, err
	}
	return cfg, nil
}

func (r *Repository) deleteConfigWith(ctx context.Context, exec commandTagExecutor, instrumentID string) error {
	tag, err := exec.Exec(ctx, `DELETE FROM trade_configurations WHERE instrument_id = $1`, instrumentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInstrumentNotFound
	}
	return nil
}

func scanConfigInto(row pgx.Row, cfg *trading.InstrumentConfig) error {
	var side string
	if err := row.Scan(
		&cfg.InstrumentID,
		&cfg.TradingSymbol,
		&cfg.Exchange,
		&cfg.LotSize,
		&cfg.BreakoutPercentage,
		&cfg.ExitThresholdPoints,
		&cfg.IntervalMinutes,
		&side,
		&cfg.Product,
	); err != nil {
		return err
	}
	cfg.TradeSide = trading.TradeSide(side)
	return nil
}
