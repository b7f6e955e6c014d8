package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"market-pulse/internal/domain"

	"github.com/redis/go-redis/v9"
)

// EventsChannel carries tier-change events for every consumer.
const EventsChannel = "feed:events"

const globalKey = "market:global"

// RedisClient is the subset of redis commands the mirror writes with.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// TierEvent is published whenever a consumer's active tier changes.
type TierEvent struct {
	ConsumerID string      `json:"consumer_id"`
	From       domain.Tier `json:"from"`
	To         domain.Tier `json:"to"`
	At         time.Time   `json:"at"`
}

// Mirror copies the latest views into Redis for external readers. Nothing
// is ever read back, and every key expires.
type Mirror struct {
	rdb RedisClient
	ttl time.Duration
}

func NewMirror(rdb RedisClient, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Mirror{rdb: rdb, ttl: ttl}
}

func ViewKey(consumerID string) string {
	return "feed:" + consumerID + ":view"
}

func (m *Mirror) WriteView(ctx context.Context, view domain.FeedView) error {
	return m.set(ctx, ViewKey(view.ConsumerID), view)
}

func (m *Mirror) WriteGlobal(ctx context.Context, view domain.GlobalView) error {
	return m.set(ctx, globalKey, view)
}

func (m *Mirror) PublishTierChange(ctx context.Context, ev TierEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal tier event: %w", err)
	}
	if err := m.rdb.Publish(ctx, EventsChannel, data).Err(); err != nil {
		return fmt.Errorf("publish tier event: %w", err)
	}
	return nil
}

func (m *Mirror) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := m.rdb.Set(ctx, key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
