package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// -----------------------------
// Presence
// -----------------------------

func (s *Store) AddUserToRoom(ctx context.Context, roomID, userID string) error {
	key := usersKey(roomID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, userID)
		pipe.Expire(ctx, key, s.opts.PresenceTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add user %s to room %s: %w", userID, roomID, err)
	}
	return nil
}

func (s *Store) RemoveUserFromRoom(ctx context.Context, roomID, userID string) error {
	if err := s.rdb.SRem(ctx, usersKey(roomID), userID).Err(); err != nil {
		return fmt.Errorf("remove user %s from room %s: %w", userID, roomID, err)
	}
	return nil
}

// RefreshPresence extends the presence TTL without changing membership.
func (s *Store) RefreshPresence(ctx context.Context, roomID string) error {
	return s.rdb.Expire(ctx, usersKey(roomID), s.opts.PresenceTTL).Err()
}

func (s *Store) RoomUsers(ctx context.Context, roomID string) ([]string, error) {
	users, err := s.rdb.SMembers(ctx, usersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("room users %s: %w", roomID, err)
	}
	sort.Strings(users)
	return users, nil
}

func (s *Store) RoomUserCount(ctx context.Context, roomID string) (int64, error) {
	n, err := s.rdb.SCard(ctx, usersKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("room user count %s: %w", roomID, err)
	}
	return n, nil
}

// -----------------------------
// Typing
// -----------------------------

// SetTyping marks userID as typing until now+TypingTTL, or clears the mark.
// Members are scored by expiry so stale entries can be pruned in place.
func (s *Store) SetTyping(ctx context.Context, roomID, userID string, typing bool) error {
	key := typingKey(roomID)
	now := s.now()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
		if typing {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.Add(s.opts.TypingTTL).UnixMilli()), Member: userID})
			pipe.Expire(ctx, key, s.opts.TypingTTL)
		} else {
			pipe.ZRem(ctx, key, userID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set typing %s in %s: %w", userID, roomID, err)
	}
	return nil
}

func (s *Store) TypingUsers(ctx context.Context, roomID string) ([]string, error) {
	users, err := s.rdb.ZRangeByScore(ctx, typingKey(roomID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(s.now().UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("typing users %s: %w", roomID, err)
	}
	sort.Strings(users)
	return users, nil
}
