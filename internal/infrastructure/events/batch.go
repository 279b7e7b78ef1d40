package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BatchConfig controls when buffered events are flushed.
type BatchConfig struct {
	Size    int
	Timeout time.Duration
}

// batchBuffer collects items and flushes them when Size is reached or
// Timeout has passed since the first buffered item.
type batchBuffer[T any] struct {
	cfg     BatchConfig
	flushFn func(context.Context, []T) error
	logger  *logrus.Entry

	mu    sync.Mutex
	items []T
	timer *time.Timer
	ctx   context.Context
}

func newBatchBuffer[T any](cfg BatchConfig, flushFn func(context.Context, []T) error, logger *logrus.Entry) *batchBuffer[T] {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	return &batchBuffer[T]{
		cfg:     cfg,
		flushFn: flushFn,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// setContext sets the context used by timer-driven flushes.
func (bb *batchBuffer[T]) setContext(ctx context.Context) {
	bb.mu.Lock()
	bb.ctx = ctx
	bb.mu.Unlock()
}

func (bb *batchBuffer[T]) add(item T) error {
	bb.mu.Lock()
	bb.items = append(bb.items, item)
	var batch []T
	if len(bb.items) >= bb.cfg.Size {
		batch = bb.takeLocked()
	} else if bb.timer == nil && bb.cfg.Timeout > 0 {
		bb.timer = time.AfterFunc(bb.cfg.Timeout, bb.flushOnTimer)
	}
	ctx := bb.ctx
	bb.mu.Unlock()

	return bb.flush(ctx, batch)
}

func (bb *batchBuffer[T]) flushOnTimer() {
	bb.mu.Lock()
	batch := bb.takeLocked()
	ctx := bb.ctx
	bb.mu.Unlock()
	if err := bb.flush(ctx, batch); err != nil {
		bb.logger.WithError(err).Warn("batch flush failed")
	}
}

func (bb *batchBuffer[T]) takeLocked() []T {
	if bb.timer != nil {
		bb.timer.Stop()
		bb.timer = nil
	}
	if len(bb.items) == 0 {
		return nil
	}
	batch := make([]T, len(bb.items))
	copy(batch, bb.items)
	bb.items = bb.items[:0]
	return batch
}

func (bb *batchBuffer[T]) flush(ctx context.Context, batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	if err := bb.flushFn(ctx, batch); err != nil {
		return err
	}
	bb.logger.WithFields(logrus.Fields{
		"size":    len(batch),
		"took_ms": time.Since(start).Milliseconds(),
	}).Debug("flushed batch")
	return nil
}

// drain flushes whatever is buffered using ctx.
func (bb *batchBuffer[T]) drain(ctx context.Context) error {
	bb.mu.Lock()
	batch := bb.takeLocked()
	bb.mu.Unlock()
	return bb.flush(ctx, batch)
}
