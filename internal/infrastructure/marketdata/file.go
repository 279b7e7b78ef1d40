package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	domain "algotrader/internal/domain/entity/marketdata"

	"github.com/sirupsen/logrus"
)

// fileCandle is the on-disk record; start_time is local wall-clock time.
type fileCandle struct {
	StartTime string  `json:"start_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

type seriesKey struct {
	instrumentID string
	interval     int
}

type fileSeries struct {
	candles map[string]domain.Candle
	latest  time.Time
	dirty   bool
}

// FileRepository keeps candles in memory and snapshots every series to its
// own JSON file. A series is written immediately when a newer bucket opens,
// so sealed candles reach disk before they are used for a decision. With a
// zero snapshot period each upsert is written through.
type FileRepository struct {
	dir    string
	loc    *time.Location
	every  time.Duration
	logger *logrus.Entry

	mu     sync.Mutex
	series map[seriesKey]*fileSeries
}

func NewFileRepository(dir string, loc *time.Location, every time.Duration, logger *logrus.Logger) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create candle dir: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &FileRepository{
		dir:    dir,
		loc:    loc,
		every:  every,
		logger: logger.WithField("component", "candle_files"),
		series: make(map[seriesKey]*fileSeries),
	}, nil
}

func (r *FileRepository) path(key seriesKey) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%dm_candles.json", key.instrumentID, key.interval))
}

func (r *FileRepository) UpsertCandle(_ context.Context, candle domain.Candle) error {
	key := seriesKey{candle.InstrumentID, candle.IntervalMinutes}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.loadLocked(key)
	if err != nil {
		return err
	}
	s.candles[candle.BucketStart.In(r.loc).Format(domain.StartTimeLayout)] = candle
	s.dirty = true
	sealed := !s.latest.IsZero() && candle.BucketStart.After(s.latest)
	if candle.BucketStart.After(s.latest) {
		s.latest = candle.BucketStart
	}
	if r.every <= 0 || sealed {
		return r.writeLocked(key, s)
	}
	return nil
}

// GetLastCandles returns up to limit candles, oldest first.
func (r *FileRepository) GetLastCandles(_ context.Context, instrumentID string, intervalMinutes int, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.loadLocked(seriesKey{instrumentID, intervalMinutes})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Candle, 0, len(s.candles))
	for _, c := range s.candles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BucketStart.Before(out[j].BucketStart)
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Run snapshots dirty series periodically until ctx is done, then flushes once more.
func (r *FileRepository) Run(ctx context.Context) error {
	if r.every <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return r.Snapshot()
		case <-ticker.C:
			if err := r.Snapshot(); err != nil {
				r.logger.WithError(err).Warn("candle snapshot failed")
			}
		}
	}
}

// Snapshot writes every dirty series to disk.
func (r *FileRepository) Snapshot() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, s := range r.series {
		if !s.dirty {
			continue
		}
		if err := r.writeLocked(key, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *FileRepository) Close() {
	if err := r.Snapshot(); err != nil {
		r.logger.WithError(err).Error("final candle snapshot failed")
	}
}

func (r *FileRepository) loadLocked(key seriesKey) (*fileSeries, error) {
	if s, ok := r.series[key]; ok {
		return s, nil
	}
	s := &fileSeries{candles: make(map[string]domain.Candle)}
	data, err := os.ReadFile(r.path(key))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", r.path(key), err)
	case len(data) > 0:
		var records []fileCandle
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.path(key), err)
		}
		for _, rec := range records {
			start, err := time.ParseInLocation(domain.StartTimeLayout, rec.StartTime, r.loc)
			if err != nil {
				return nil, fmt.Errorf("decode %s start_time %q: %w", r.path(key), rec.StartTime, err)
			}
			s.candles[rec.StartTime] = domain.Candle{
				InstrumentID:    key.instrumentID,
				IntervalMinutes: key.interval,
				BucketStart:     start,
				Open:            rec.Open,
				High:            rec.High,
				Low:             rec.Low,
				Close:           rec.Close,
				Volume:          rec.Volume,
			}
			if start.After(s.latest) {
				s.latest = start
			}
		}
	}
	r.series[key] = s
	return s, nil
}

func (r *FileRepository) writeLocked(key seriesKey, s *fileSeries) error {
	records := make([]fileCandle, 0, len(s.candles))
	for start, c := range s.candles {
		records = append(records, fileCandle{
			StartTime: start,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime < records[j].StartTime
	})
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode candles: %w", err)
	}
	path := r.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	s.dirty = false
	return nil
}
