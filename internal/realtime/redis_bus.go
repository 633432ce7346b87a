package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"unicornio-backend/internal/shared/telemetry"
)

const defaultRedisChannel = "informes"

// RedisOptions configures a RedisBus.
type RedisOptions struct {
	Addr     string
	Password string
	Channel  string
}

// RedisBus publishes report events on a Redis pub/sub channel so every API
// instance can forward them to its own Hub.
type RedisBus struct {
	rdb     *goredis.Client
	channel string
}

// NewRedisBus connects and pings Redis.
func NewRedisBus(ctx context.Context, opts RedisOptions) (*RedisBus, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	channel := strings.TrimSpace(opts.Channel)
	if channel == "" {
		channel = defaultRedisChannel
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb, channel: channel}, nil
}

// Publish sends ev to all subscribed instances.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Forward subscribes to the channel and hands every event to onEvent until ctx
// is done. It returns once the subscription is confirmed; delivery continues
// in the background.
func (b *RedisBus) Forward(ctx context.Context, onEvent func(Event)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				ev, err := decodeEvent(m.Payload)
				if err != nil {
					telemetry.Warn("realtime.bad_payload", map[string]any{"error": err})
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

// Close releases the Redis connection pool.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

func decodeEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, err
	}
	if ev.EmprendedorID == "" {
		return Event{}, fmt.Errorf("event without emprendedorId")
	}
	return ev, nil
}
