package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisDedup implements DedupStore on a per-region Redis set. A listing ID
// lives in the set while the listing is considered active; the TTL lets IDs
// the site has dropped age out so a relisted rental counts as new again.
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDedup creates a RedisDedup. A zero ttl keeps IDs forever.
func NewRedisDedup(client *redis.Client, ttl time.Duration) *RedisDedup {
	return &RedisDedup{client: client, ttl: ttl}
}

func seenKey(region int) string {
	return fmt.Sprintf("region:%d:seen_ids", region)
}

func member(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Exists reports whether the ID is already marked seen for the region.
func (d *RedisDedup) Exists(ctx context.Context, region int, id int64) (bool, error) {
	ok, err := d.client.SIsMember(ctx, seenKey(region), member(id)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup exists: %w", err)
	}
	return ok, nil
}

// CheckAndMark adds the ID to the region's seen set. SADD reports how many
// members were newly added, which makes the check-and-mark a single atomic
// write: exactly one concurrent caller sees true.
func (d *RedisDedup) CheckAndMark(ctx context.Context, region int, id int64) (bool, error) {
	key := seenKey(region)
	added, err := d.client.SAdd(ctx, key, member(id)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check-and-mark: %w", err)
	}
	if err := d.refreshTTL(ctx, key); err != nil {
		return false, err
	}
	return added == 1, nil
}

// Unmark releases a claimed ID after a downstream failure.
func (d *RedisDedup) Unmark(ctx context.Context, region int, id int64) error {
	if err := d.client.SRem(ctx, seenKey(region), member(id)).Err(); err != nil {
		return fmt.Errorf("dedup unmark: %w", err)
	}
	return nil
}

// MarkSeen adds the ID unconditionally and refreshes the set's TTL.
func (d *RedisDedup) MarkSeen(ctx context.Context, region int, id int64) error {
	key := seenKey(region)
	if err := d.client.SAdd(ctx, key, member(id)).Err(); err != nil {
		return fmt.Errorf("dedup mark-seen: %w", err)
	}
	return d.refreshTTL(ctx, key)
}

// CountSeen returns how many IDs the region has accumulated.
func (d *RedisDedup) CountSeen(ctx context.Context, region int) (int64, error) {
	n, err := d.client.SCard(ctx, seenKey(region)).Result()
	if err != nil {
		return 0, fmt.Errorf("dedup count: %w", err)
	}
	return n, nil
}

func (d *RedisDedup) refreshTTL(ctx context.Context, key string) error {
	if d.ttl <= 0 {
		return nil
	}
	if err := d.client.Expire(ctx, key, d.ttl).Err(); err != nil {
		return fmt.Errorf("dedup refresh ttl: %w", err)
	}
	return nil
}
