package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Nil is returned by Get when the key does not exist.
var Nil = redis.Nil

type RedisClient struct {
	client *redis.Client
}

func Connect(addr, password string, db int) (*RedisClient, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// New wraps an already configured client.
func New(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

// fixedWindow increments the counter and sets the window TTL on first hit,
// in a single round trip so concurrent requests cannot both slip through.
var fixedWindow = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return { current, ttl }
`)

// CheckRateLimit reports whether another hit on key fits in the current
// fixed window. When it does not, the second value is the number of seconds
// until the window resets.
func (r *RedisClient) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	res, err := fixedWindow.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return true, 0, err
	}
	if len(res) != 2 {
		return true, 0, errors.New("unexpected rate limit script reply")
	}

	if res[0] > int64(limit) {
		retry := int((time.Duration(res[1]) * time.Millisecond).Seconds())
		if retry < 1 {
			retry = 1
		}
		return false, retry, nil
	}
	return true, 0, nil
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

// IncrementFields bumps several hash counters at once and refreshes the TTL.
func (r *RedisClient) IncrementFields(ctx context.Context, key string, ttl time.Duration, fields map[string]int64) error {
	pipe := r.client.TxPipeline()
	for field, by := range fields {
		pipe.HIncrBy(ctx, key, field, by)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisClient) GetFields(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}
