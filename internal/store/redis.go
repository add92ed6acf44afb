package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/coursechat/internal/models"
)

const (
	userChannelPrefix = "chat:user:"
	presenceTTL       = 90 * time.Second
)

// RedisStore carries realtime frames between backend instances over
// PUBLISH/PSUBSCRIBE and tracks which users have a live socket anywhere.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// userChannel returns the pub/sub channel for a user's frames.
func userChannel(userID string) string {
	return userChannelPrefix + userID
}

// presenceKey returns the key counting a user's live sockets.
func presenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

// Publish sends frame to every instance holding a socket for userID.
func (s *RedisStore) Publish(ctx context.Context, userID string, frame models.Frame) error {
	defer observe("redis", time.Now())
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, userChannel(userID), data).Err()
}

// Subscribe delivers every published frame to fn until ctx is done.
func (s *RedisStore) Subscribe(ctx context.Context, logger zerolog.Logger, fn func(userID string, frame models.Frame)) error {
	sub := s.client.PSubscribe(ctx, userChannelPrefix+"*")
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var frame models.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed frame")
				continue
			}
			fn(strings.TrimPrefix(msg.Channel, userChannelPrefix), frame)
		}
	}
}

// AddPresence records one more live socket for userID.
func (s *RedisStore) AddPresence(ctx context.Context, userID string) error {
	pipe := s.client.Pipeline()
	pipe.Incr(ctx, presenceKey(userID))
	pipe.Expire(ctx, presenceKey(userID), presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RefreshPresence extends the presence TTL while a socket stays open.
func (s *RedisStore) RefreshPresence(ctx context.Context, userID string) error {
	return s.client.Expire(ctx, presenceKey(userID), presenceTTL).Err()
}

// RemovePresence drops one live socket for userID.
func (s *RedisStore) RemovePresence(ctx context.Context, userID string) error {
	n, err := s.client.Decr(ctx, presenceKey(userID)).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		return s.client.Del(ctx, presenceKey(userID)).Err()
	}
	return nil
}

// IsPresent reports whether userID has a live socket on any instance.
func (s *RedisStore) IsPresent(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Get(ctx, presenceKey(userID)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
