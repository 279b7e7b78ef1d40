package pnl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DayTTL keeps a trading day's hash around past the next session open.
const DayTTL = 36 * time.Hour

// RedisStore keeps one hash per trading day, field = trading symbol.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "pnl:"}
}

func (s *RedisStore) key(day string) string {
	return s.prefix + day
}

func (s *RedisStore) SetPoints(ctx context.Context, day, symbol string, points float64) error {
	key := s.key(day)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, symbol, strconv.FormatFloat(points, 'f', -1, 64))
	pipe.Expire(ctx, key, DayTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset %s %s: %w", key, symbol, err)
	}
	return nil
}

func (s *RedisStore) GetPoints(ctx context.Context, day string, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	values, err := s.client.HMGet(ctx, s.key(day), symbols...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis hmget %s: %w", s.key(day), err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		points, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse points for %s: %w", symbols[i], err)
		}
		out[symbols[i]] = points
	}
	return out, nil
}
