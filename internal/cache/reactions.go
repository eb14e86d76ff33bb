package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
)

// Each hash field holds a JSON array of user ids. Both scripts run atomically
// per message key, so concurrent writers on one message cannot lose updates.
var addReactionScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
local users = {}
if raw then users = cjson.decode(raw) end
for _, u in ipairs(users) do
  if u == ARGV[2] then return 0 end
end
table.insert(users, ARGV[2])
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(users))
local ttl = tonumber(ARGV[3])
if ttl > 0 then redis.call('EXPIRE', KEYS[1], ttl) end
return 1
`)

var removeReactionScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then return 0 end
local users = cjson.decode(raw)
local kept = {}
local removed = 0
for _, u in ipairs(users) do
  if u == ARGV[2] then removed = 1 else table.insert(kept, u) end
end
if removed == 0 then return 0 end
if #kept == 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
else
  redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(kept))
end
return 1
`)

// AddReaction reports whether userID was newly added under kind.
func (s *Store) AddReaction(ctx context.Context, messageID string, kind domain.ReactionKind, userID string) (bool, error) {
	n, err := addReactionScript.Run(ctx, s.rdb, []string{reactionsKey(messageID)},
		string(kind), userID, int64(s.opts.ReactionTTL.Seconds())).Int64()
	if err != nil {
		return false, fmt.Errorf("cache add reaction %s/%s: %w", messageID, kind, err)
	}
	return n == 1, nil
}

// RemoveReaction reports whether userID was present under kind.
func (s *Store) RemoveReaction(ctx context.Context, messageID string, kind domain.ReactionKind, userID string) (bool, error) {
	n, err := removeReactionScript.Run(ctx, s.rdb, []string{reactionsKey(messageID)},
		string(kind), userID).Int64()
	if err != nil {
		return false, fmt.Errorf("cache remove reaction %s/%s: %w", messageID, kind, err)
	}
	return n == 1, nil
}

// ReactionsCached reports whether the message has a cache entry at all.
func (s *Store) ReactionsCached(ctx context.Context, messageID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, reactionsKey(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("cache reactions exists %s: %w", messageID, err)
	}
	return n > 0, nil
}

// Reactions returns the cached tally and whether the message had a cache entry.
func (s *Store) Reactions(ctx context.Context, messageID string) (domain.ReactionTally, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, reactionsKey(messageID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("cache reactions %s: %w", messageID, err)
	}
	if len(fields) == 0 {
		return domain.ReactionTally{}, false, nil
	}
	return decodeTally(fields), true, nil
}

// ReactionsBatch reads many tallies in one round trip. Ids without a cache
// entry are returned in missing.
func (s *Store) ReactionsBatch(ctx context.Context, messageIDs []string) (map[string]domain.ReactionTally, []string, error) {
	cmds := make([]*redis.MapStringStringCmd, len(messageIDs))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range messageIDs {
			cmds[i] = pipe.HGetAll(ctx, reactionsKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("cache reactions batch: %w", err)
	}
	out := make(map[string]domain.ReactionTally, len(messageIDs))
	var missing []string
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			missing = append(missing, messageIDs[i])
			continue
		}
		out[messageIDs[i]] = decodeTally(fields)
	}
	return out, missing, nil
}

// WarmReactions seeds a cold cache entry from durable state without
// overwriting fields a concurrent writer already set.
func (s *Store) WarmReactions(ctx context.Context, messageID string, tally domain.ReactionTally) error {
	if len(tally) == 0 {
		return nil
	}
	key := reactionsKey(messageID)
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for kind, users := range tally {
			if len(users) == 0 {
				continue
			}
			data, err := json.Marshal(users)
			if err != nil {
				return err
			}
			pipe.HSetNX(ctx, key, string(kind), data)
		}
		if s.opts.ReactionTTL > 0 {
			pipe.Expire(ctx, key, s.opts.ReactionTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("warm reactions %s: %w", messageID, err)
	}
	return nil
}

func decodeTally(fields map[string]string) domain.ReactionTally {
	tally := make(domain.ReactionTally, len(fields))
	for kind, raw := range fields {
		var users []string
		if err := json.Unmarshal([]byte(raw), &users); err != nil || len(users) == 0 {
			continue
		}
		tally[domain.ReactionKind(kind)] = users
	}
	return tally.Normalize()
}

// -----------------------------
// Read cursor
// -----------------------------

func (s *Store) SetLastRead(ctx context.Context, roomID, userID, messageID string) error {
	if err := s.rdb.Set(ctx, lastReadKey(roomID, userID), messageID, s.opts.LastReadTTL).Err(); err != nil {
		return fmt.Errorf("set last read %s/%s: %w", roomID, userID, err)
	}
	return nil
}

// LastRead returns the cached cursor; ok is false when absent or expired.
func (s *Store) LastRead(ctx context.Context, roomID, userID string) (string, bool, error) {
	id, err := s.rdb.Get(ctx, lastReadKey(roomID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get last read %s/%s: %w", roomID, userID, err)
	}
	return id, true, nil
}
