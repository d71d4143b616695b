package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hb9tf/wifiradar/publish"
)

const (
	DefaultRedisKey     = "wifiradar:latest"
	DefaultRedisChannel = "wifiradar:snapshots"
)

// Redis keeps the latest snapshot under Key and publishes every snapshot
// on Channel, both as JSON.
type Redis struct {
	Client  *redis.Client
	Key     string
	Channel string
	// TTL of the latest snapshot. Zero keeps it forever.
	TTL time.Duration
}

func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &Redis{Client: client, Key: DefaultRedisKey, Channel: DefaultRedisChannel}, nil
}

func (r *Redis) Write(ctx context.Context, snapshots <-chan publish.Snapshot) error {
	return drain(ctx, snapshots, newCounter("redis"), func(snap publish.Snapshot) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		pipe := r.Client.Pipeline()
		pipe.Set(ctx, r.Key, data, r.TTL)
		pipe.Publish(ctx, r.Channel, data)
		_, err = pipe.Exec(ctx)
		return err
	})
}

func (r *Redis) Close() error {
	return r.Client.Close()
}
