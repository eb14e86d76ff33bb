package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
)

// CacheRecentMessage appends m to the room's recent window, trims it to the
// configured limit and resets its TTL in one transaction.
func (s *Store) CacheRecentMessage(ctx context.Context, m *domain.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", m.MessageID, err)
	}
	key := recentKey(m.RoomID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -s.opts.RecentLimit, -1)
		pipe.Expire(ctx, key, s.opts.RecentTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache recent message %s: %w", m.MessageID, err)
	}
	return nil
}

// RecentMessages returns the room's window oldest first. A missing window is
// an empty slice.
func (s *Store) RecentMessages(ctx context.Context, roomID string) ([]*domain.Message, error) {
	raw, err := s.rdb.LRange(ctx, recentKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("recent messages %s: %w", roomID, err)
	}
	out := make([]*domain.Message, 0, len(raw))
	for _, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			// corrupt entries are skipped, the window is best effort
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

func (s *Store) RecentTTL(ctx context.Context, roomID string) (time.Duration, error) {
	return s.rdb.TTL(ctx, recentKey(roomID)).Result()
}
