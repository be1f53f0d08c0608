package streamlog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis Streams backed log.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// MaxLen caps each stream with approximate trimming on append. Zero disables it.
	MaxLen int64 `yaml:"max_len"`
}

// RedisLog implements Log on top of Redis Streams (XADD/XRANGE/XLEN/XDEL).
type RedisLog struct {
	client redis.UniversalClient
	maxLen int64
}

// NewRedisLog dials Redis with pooling and timeouts suitable for a long-running drainer.
func NewRedisLog(cfg RedisConfig) *RedisLog {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: time.Second,
	})
	return &RedisLog{client: client, maxLen: cfg.MaxLen}
}

// NewRedisLogFromClient wraps an existing client.
func NewRedisLogFromClient(client redis.UniversalClient) *RedisLog {
	return &RedisLog{client: client}
}

// Ping checks connectivity.
func (r *RedisLog) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLog) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

func (r *RedisLog) Range(ctx context.Context, stream, from, to string, count int64) ([]Entry, error) {
	msgs, err := r.client.XRangeN(ctx, stream, from, to, count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}
	return toEntries(msgs), nil
}

func (r *RedisLog) RevRange(ctx context.Context, stream string, count int64) ([]Entry, error) {
	msgs, err := r.client.XRevRangeN(ctx, stream, MaxKey, MinKey, count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", stream, err)
	}
	return toEntries(msgs), nil
}

func (r *RedisLog) Len(ctx context.Context, stream string) (int64, error) {
	n, err := r.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", stream, err)
	}
	return n, nil
}

func (r *RedisLog) Delete(ctx context.Context, stream string, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.XDel(ctx, stream, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("xdel %s: %w", stream, err)
	}
	return n, nil
}

func (r *RedisLog) Close() error {
	return r.client.Close()
}

func toEntries(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, len(msgs))
	for i, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case []byte:
				fields[k] = string(val)
			default:
				fields[k] = fmt.Sprint(val)
			}
		}
		entries[i] = Entry{Key: m.ID, Fields: fields}
	}
	return entries
}
