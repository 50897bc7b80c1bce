package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketchat/pkg/config"
)

// UnreadCounter keeps per-room unread badges in Redis. All methods are
// nil-receiver safe so the server runs without Redis, just with zero counts.
type UnreadCounter struct {
	client *redis.Client
}

// NewUnreadCounter connects to Redis per config. Returns nil (and no error)
// when Redis is disabled.
func NewUnreadCounter(ctx context.Context, cfg config.RedisConfig) (*UnreadCounter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &UnreadCounter{client: client}, nil
}

func unreadKey(roomUUID, userUUID string) string {
	return fmt.Sprintf("unread:%s:%s", roomUUID, userUUID)
}

// Incr bumps the unread badge a user will see for a room.
func (u *UnreadCounter) Incr(ctx context.Context, roomUUID, userUUID string) error {
	if u == nil {
		return nil
	}
	return u.client.Incr(ctx, unreadKey(roomUUID, userUUID)).Err()
}

// Reset clears the badge when the user opens the room.
func (u *UnreadCounter) Reset(ctx context.Context, roomUUID, userUUID string) error {
	if u == nil {
		return nil
	}
	return u.client.Del(ctx, unreadKey(roomUUID, userUUID)).Err()
}

// Get returns the current badge count, zero when missing.
func (u *UnreadCounter) Get(ctx context.Context, roomUUID, userUUID string) (int64, error) {
	if u == nil {
		return 0, nil
	}
	n, err := u.client.Get(ctx, unreadKey(roomUUID, userUUID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Close releases the Redis connection.
func (u *UnreadCounter) Close() error {
	if u == nil {
		return nil
	}
	return u.client.Close()
}
