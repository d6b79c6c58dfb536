package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger keeps progress in a Redis set, one member per completed key.
// SADD is atomic, so multiple worker processes over disjoint partitions can
// share one ledger without file locking.
type RedisLedger struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLedger creates a ledger stored under "batch_progress:<runID>".
func NewRedisLedger(client *redis.Client, runID string, ttl time.Duration) (*RedisLedger, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}
	return &RedisLedger{
		client: client,
		key:    fmt.Sprintf("batch_progress:%s", runID),
		ttl:    ttl,
	}, nil
}

// Load implements Ledger.Load. Redis set members carry no timestamp, so
// completion times are recorded as the load time.
func (l *RedisLedger) Load(ctx context.Context) (Progress, error) {
	members, err := l.client.SMembers(ctx, l.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load progress from redis: %w", err)
	}

	progress := make(Progress, len(members))
	now := time.Now().UTC()
	for _, member := range members {
		progress[member] = now
	}
	return progress, nil
}

// MarkDone implements Ledger.MarkDone. The SADD reply is awaited before
// returning, so the record is durable by the time the caller continues.
func (l *RedisLedger) MarkDone(ctx context.Context, progress Progress, key string) error {
	if err := l.client.SAdd(ctx, l.key, key).Err(); err != nil {
		return fmt.Errorf("failed to mark %s done in redis: %w", key, err)
	}
	if l.ttl > 0 {
		if err := l.client.Expire(ctx, l.key, l.ttl).Err(); err != nil {
			return fmt.Errorf("failed to refresh progress TTL: %w", err)
		}
	}

	progress[key] = time.Now().UTC()
	return nil
}

// Reset deletes the progress set.
func (l *RedisLedger) Reset(ctx context.Context) error {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("failed to reset redis ledger: %w", err)
	}
	return nil
}

func (l *RedisLedger) Close() error {
	// The client is shared with the queue; the owner closes it.
	return nil
}
