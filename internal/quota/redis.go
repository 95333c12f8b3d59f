package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// usageTTL keeps a monthly bucket alive past the month boundary so late
// writes and reads at the turn of the month still resolve.
const usageTTL = 62 * 24 * time.Hour

// RedisUsage is the durable [UsageStore]: one hash per user and month holding
// a job count and accumulated duration, expiring two months out.
type RedisUsage struct {
	client *redis.Client
}

var _ UsageStore = (*RedisUsage)(nil)

// NewRedisUsage connects to addr and verifies the connection.
func NewRedisUsage(ctx context.Context, addr, password string, db int) (*RedisUsage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("quota: ping redis at %s: %w", addr, err)
	}
	return &RedisUsage{client: client}, nil
}

// NewRedisUsageFromClient wraps an existing client; used by tests against
// miniredis.
func NewRedisUsageFromClient(client *redis.Client) *RedisUsage {
	return &RedisUsage{client: client}
}

func usageRedisKey(userID, month string) string {
	return fmt.Sprintf("censorly:usage:%s:%s", userID, month)
}

func (r *RedisUsage) Record(ctx context.Context, userID, month string, durationS float64) error {
	key := usageRedisKey(userID, month)
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "jobs", 1)
	pipe.HIncrByFloat(ctx, key, "duration_s", durationS)
	pipe.Expire(ctx, key, usageTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (r *RedisUsage) Jobs(ctx context.Context, userID, month string) (int, error) {
	n, err := r.client.HGet(ctx, usageRedisKey(userID, month), "jobs").Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	return n, nil
}

// Close releases the underlying client.
func (r *RedisUsage) Close() error { return r.client.Close() }
