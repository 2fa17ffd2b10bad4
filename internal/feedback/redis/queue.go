// Package redis provides a Redis-backed FeedbackQueue. Pending item IDs
// live in a list; item payloads live in per-item keys so Resolve can
// update items that were already drained.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goacyber/scamhound/internal/pipeline"
)

// Config controls the Redis connection and key layout.
type Config struct {
	Addr   string
	Prefix string
	// ItemTTL bounds how long resolved items linger. Zero means 30 days.
	ItemTTL time.Duration
}

// Queue implements pipeline.FeedbackQueue on Redis.
type Queue struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewQueue initializes a Redis-backed Queue.
func NewQueue(cfg Config) (*Queue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "scamhound:feedback"
	}
	ttl := cfg.ItemTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Queue{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr}),
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Close closes the Redis client.
func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) pendingKey() string          { return q.prefix + ":pending" }
func (q *Queue) itemKey(id string) string    { return q.prefix + ":item:" + id }
func (q *Queue) verdictKey(id string) string { return q.prefix + ":verdict:" + id }

// Enqueue adds an item unless its verdict is already queued.
func (q *Queue) Enqueue(ctx context.Context, item pipeline.FeedbackItem) error {
	ok, err := q.client.SetNX(ctx, q.verdictKey(item.VerdictID), item.ID, q.ttl).Result()
	if err != nil {
		return fmt.Errorf("reserve verdict: %w", err)
	}
	if !ok {
		return nil
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal feedback item: %w", err)
	}
	if err := q.client.Set(ctx, q.itemKey(item.ID), payload, q.ttl).Err(); err != nil {
		return fmt.Errorf("store feedback item: %w", err)
	}
	if err := q.client.RPush(ctx, q.pendingKey(), item.ID).Err(); err != nil {
		return fmt.Errorf("push feedback item: %w", err)
	}
	return nil
}

// Drain pops up to limit item IDs and loads their payloads.
func (q *Queue) Drain(ctx context.Context, limit int) ([]pipeline.FeedbackItem, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := q.client.LPopCount(ctx, q.pendingKey(), limit).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop feedback items: %w", err)
	}

	items := make([]pipeline.FeedbackItem, 0, len(ids))
	for _, id := range ids {
		val, err := q.client.Get(ctx, q.itemKey(id)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("load feedback item %s: %w", id, err)
		}
		var item pipeline.FeedbackItem
		if err := json.Unmarshal([]byte(val), &item); err != nil {
			return nil, fmt.Errorf("decode feedback item %s: %w", id, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Resolve records the analyst label and frees the verdict for requeueing.
func (q *Queue) Resolve(ctx context.Context, itemID string, humanLabel pipeline.Label) error {
	val, err := q.client.Get(ctx, q.itemKey(itemID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return pipeline.ErrNotFound
		}
		return fmt.Errorf("load feedback item: %w", err)
	}

	var item pipeline.FeedbackItem
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return fmt.Errorf("decode feedback item: %w", err)
	}
	item.Resolved = true
	item.HumanLabel = &humanLabel

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal feedback item: %w", err)
	}
	if err := q.client.Set(ctx, q.itemKey(itemID), payload, q.ttl).Err(); err != nil {
		return fmt.Errorf("store feedback item: %w", err)
	}
	if err := q.client.Del(ctx, q.verdictKey(item.VerdictID)).Err(); err != nil {
		return fmt.Errorf("release verdict: %w", err)
	}
	return nil
}

// PendingCount reports items waiting to be drained.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return int(n), nil
}
