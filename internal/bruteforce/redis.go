package bruteforce

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "adbridge:lockout:"
	redisFieldCount  = "failed_count"
	redisFieldLocked = "locked_until"

	// Unblocked counters expire so that stale histories do not accumulate.
	redisCounterTTL = 24 * time.Hour
)

// RedisRepository stores records as Redis hashes.
type RedisRepository struct {
	client redis.UniversalClient
}

func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

// ConnectRedis parses url and verifies the server answers.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisRepository) Get(ctx context.Context, key string) (Record, error) {
	data, err := r.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return Record{}, err
	}
	if len(data) == 0 {
		return Record{}, nil
	}
	return decodeRedisRecord(key, data), nil
}

func (r *RedisRepository) RecordFailure(ctx context.Context, key string, now time.Time, threshold int, blockTime time.Duration) (Record, error) {
	redisKey := redisKeyPrefix + key

	count, err := r.client.HIncrBy(ctx, redisKey, redisFieldCount, 1).Result()
	if err != nil {
		return Record{}, err
	}

	rec := Record{Key: key, Attempts: int(count)}
	if rec.Attempts < threshold {
		if err := r.client.Expire(ctx, redisKey, redisCounterTTL).Err(); err != nil {
			return Record{}, err
		}
		return rec, nil
	}

	rec.BlockedUntil = now.Add(blockTime).UTC()
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, redisKey, redisFieldLocked, rec.BlockedUntil.Unix())
		p.Expire(ctx, redisKey, blockTime+redisCounterTTL)
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *RedisRepository) Clear(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKeyPrefix+key).Err()
}

func decodeRedisRecord(key string, data map[string]string) Record {
	rec := Record{Key: key}
	if raw, ok := data[redisFieldCount]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			rec.Attempts = n
		}
	}
	if raw, ok := data[redisFieldLocked]; ok && raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
			rec.BlockedUntil = time.Unix(unix, 0).UTC()
		}
	}
	return rec
}
