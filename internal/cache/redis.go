package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/chat-fanout/internal/config"
)

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

type Options struct {
	RecentLimit int64
	RecentTTL   time.Duration
	PresenceTTL time.Duration
	TypingTTL   time.Duration
	LastReadTTL time.Duration
	// ReactionTTL of zero keeps reaction hashes until evicted.
	ReactionTTL time.Duration
}

func OptionsFromConfig(c *config.Config) Options {
	return Options{
		RecentLimit: c.Cache.RecentLimit,
		RecentTTL:   c.RecentTTL,
		PresenceTTL: c.PresenceTTL,
		TypingTTL:   c.TypingTTL,
		LastReadTTL: c.LastReadTTL,
		ReactionTTL: c.ReactionTTL,
	}
}

func DefaultOptions() Options {
	return Options{
		RecentLimit: 50,
		RecentTTL:   600 * time.Second,
		PresenceTTL: 300 * time.Second,
		TypingTTL:   5 * time.Second,
		LastReadTTL: time.Hour,
		ReactionTTL: 24 * time.Hour,
	}
}

// Store is the access layer over the ephemeral room state. Every value it
// holds can be rebuilt from the log or durable storage.
type Store struct {
	rdb  redis.Cmdable
	opts Options
	now  func() time.Time
}

func NewStore(rdb redis.Cmdable, opts Options) *Store {
	return &Store{rdb: rdb, opts: opts, now: time.Now}
}

// WithClock replaces the clock used for typing expiry scores.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func recentKey(roomID string) string { return "room:" + roomID + ":recent" }
func usersKey(roomID string) string { return "room:" + roomID + ":users" }
func typingKey(roomID string) string { return "room:" + roomID + ":typing" }
func reactionsKey(messageID string) string { return "message:" + messageID + ":reactions" }
func lastReadKey(roomID, userID string) string { return "room:" + roomID + ":lastRead:" + userID }
