package reaction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
	"github.com/fathima-sithara/chat-fanout/internal/errs"
	"github.com/fathima-sithara/chat-fanout/internal/repository"
)

type Cache interface {
	AddReaction(ctx context.Context, messageID string, kind domain.ReactionKind, userID string) (bool, error)
	RemoveReaction(ctx context.Context, messageID string, kind domain.ReactionKind, userID string) (bool, error)
	ReactionsCached(ctx context.Context, messageID string) (bool, error)
	Reactions(ctx context.Context, messageID string) (domain.ReactionTally, bool, error)
	ReactionsBatch(ctx context.Context, messageIDs []string) (map[string]domain.ReactionTally, []string, error)
	WarmReactions(ctx context.Context, messageID string, tally domain.ReactionTally) error
}

// Aggregator keeps a message's reaction tally in durable storage and in the
// cache. Durable writes happen first so a cold cache can always be rebuilt.
type Aggregator struct {
	store repository.ReactionRepository
	cache Cache
	log   *zap.SugaredLogger
}

func NewAggregator(store repository.ReactionRepository, cache Cache, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{store: store, cache: cache, log: log}
}

// Add records r. Repeating the same (message, user, kind) yields Duplicate
// and leaves the tally unchanged.
func (a *Aggregator) Add(ctx context.Context, r *domain.Reaction) (domain.Outcome, error) {
	inserted, err := a.store.AddReaction(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrProcessing, err)
	}
	if !inserted {
		a.log.Debugw("reaction already stored", "message_id", r.MessageID, "user_id", r.UserID, "kind", r.Kind)
	}
	if err := a.ensureWarm(ctx, r.MessageID); err != nil {
		return 0, err
	}
	added, err := a.cache.AddReaction(ctx, r.MessageID, r.Kind, r.UserID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrProcessing, err)
	}
	if !inserted && !added {
		return domain.Duplicate, nil
	}
	return domain.Accepted, nil
}

func (a *Aggregator) Remove(ctx context.Context, r *domain.Reaction) (domain.Outcome, error) {
	deleted, err := a.store.RemoveReaction(ctx, r.MessageID, r.UserID, r.Kind)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrProcessing, err)
	}
	removed, err := a.cache.RemoveReaction(ctx, r.MessageID, r.Kind, r.UserID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrProcessing, err)
	}
	if !deleted && !removed {
		return domain.Duplicate, nil
	}
	return domain.Accepted, nil
}

// Reactions returns the tally for one message; unknown messages yield an
// empty tally.
func (a *Aggregator) Reactions(ctx context.Context, messageID string) (domain.ReactionTally, error) {
	tally, found, err := a.cache.Reactions(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if found {
		return tally, nil
	}
	stored, err := a.load(ctx, []string{messageID})
	if err != nil {
		return nil, err
	}
	if t, ok := stored[messageID]; ok {
		return t, nil
	}
	return domain.ReactionTally{}, nil
}

// ReactionsForMessages omits messages without reactions.
func (a *Aggregator) ReactionsForMessages(ctx context.Context, messageIDs []string) (map[string]domain.ReactionTally, error) {
	if len(messageIDs) == 0 {
		return map[string]domain.ReactionTally{}, nil
	}
	out, missing, err := a.cache.ReactionsBatch(ctx, messageIDs)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		stored, err := a.load(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, t := range stored {
			out[id] = t
		}
	}
	for id, t := range out {
		if len(t) == 0 {
			delete(out, id)
		}
	}
	return out, nil
}

// load reads tallies from durable storage and seeds the cache with them.
func (a *Aggregator) load(ctx context.Context, messageIDs []string) (map[string]domain.ReactionTally, error) {
	stored, err := a.store.ReactionsForMessages(ctx, messageIDs)
	if err != nil {
		return nil, err
	}
	for id, t := range stored {
		if err := a.cache.WarmReactions(ctx, id, t); err != nil {
			a.log.Warnw("warm reactions failed", "message_id", id, "error", err)
		}
	}
	return stored, nil
}

// ensureWarm rebuilds an evicted cache entry before it is mutated, otherwise
// the first write after eviction would hide everything stored earlier.
func (a *Aggregator) ensureWarm(ctx context.Context, messageID string) error {
	cached, err := a.cache.ReactionsCached(ctx, messageID)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrProcessing, err)
	}
	if cached {
		return nil
	}
	if _, err := a.load(ctx, []string{messageID}); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrProcessing, err)
	}
	return nil
}
