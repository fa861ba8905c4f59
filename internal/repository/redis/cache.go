// Package redis publishes execution events on a Redis channel and caches
// computed plans.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/config"
	"github.com/limiquantix/replanner/internal/executor"
	"github.com/limiquantix/replanner/internal/plan"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

var _ executor.EventSink = (*Cache)(nil)

// Cache wraps a Redis client.
type Cache struct {
	client  *redis.Client
	channel string
	planTTL time.Duration
	logger  *zap.Logger
}

// NewCache creates a new Redis cache connection.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	return &Cache{
		client:  client,
		channel: cfg.Channel,
		planTTL: cfg.PlanTTL,
		logger:  logger.With(zap.String("component", "redis")),
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Plan Cache
// =============================================================================

func planKey(id string) string {
	return fmt.Sprintf("plan:%s", id)
}

// SetPlan caches a plan for the configured TTL.
func (c *Cache) SetPlan(ctx context.Context, rec *plan.PlanRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	return c.client.Set(ctx, planKey(rec.ID), data, c.planTTL).Err()
}

// GetPlan retrieves a cached plan.
func (c *Cache) GetPlan(ctx context.Context, id string) (*plan.PlanRecord, error) {
	val, err := c.client.Get(ctx, planKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	var rec plan.PlanRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return &rec, nil
}

// =============================================================================
// Pub/Sub Operations for Execution Events
// =============================================================================

// Publish implements executor.EventSink.
func (c *Cache) Publish(ctx context.Context, ev executor.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.client.Publish(ctx, c.channel, data).Err()
}

// Subscribe streams the events of the channel until ctx is done.
func (c *Cache) Subscribe(ctx context.Context) <-chan executor.Event {
	pubsub := c.client.Subscribe(ctx, c.channel)
	events := make(chan executor.Event, 100)

	go func() {
		defer close(events)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := decodeEvent(msg.Payload)
				if err != nil {
					c.logger.Warn("Failed to unmarshal event", zap.Error(err))
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}

func decodeEvent(payload string) (executor.Event, error) {
	var ev executor.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return executor.Event{}, err
	}
	if ev.ExecutionID == "" || ev.Type == "" {
		return executor.Event{}, fmt.Errorf("incomplete event %q", payload)
	}
	return ev, nil
}
