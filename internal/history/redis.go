package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the most recent records per operator in a capped list.
type RedisStore struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisStore(rdb *redis.Client, limit int, ttl time.Duration) *RedisStore {
	if limit <= 0 {
		limit = 50
	}
	return &RedisStore{rdb: rdb, limit: limit, ttl: ttl}
}

func historyKey(operator string) string {
	return "scanner:history:" + operatorKey(operator)
}

func (s *RedisStore) Append(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal history record: %w", err)
	}

	key := historyKey(rec.Operator)
	if err := s.rdb.LPush(ctx, key, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to push history record: %w", err)
	}
	if err := s.rdb.LTrim(ctx, key, 0, int64(s.limit-1)).Err(); err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	if s.ttl > 0 {
		s.rdb.Expire(ctx, key, s.ttl)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, operator string, limit int) ([]Record, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	entries, err := s.rdb.LRange(ctx, historyKey(operator), 0, int64(limit-1)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		var rec Record
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
