package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
)

type MessageRepository interface {
	// SaveMessage stores m keyed by MessageID and reports whether it was new.
	SaveMessage(ctx context.Context, m *domain.Message) (bool, error)
	EnsureRoom(ctx context.Context, roomID string) error
	// History returns up to limit messages older than before, newest first.
	// A zero before means now.
	History(ctx context.Context, roomID string, before time.Time, limit int) ([]*domain.Message, error)
}

type ReactionRepository interface {
	AddReaction(ctx context.Context, r *domain.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID string, kind domain.ReactionKind) (bool, error)
	// ReactionsForMessages omits messages that have no reactions.
	ReactionsForMessages(ctx context.Context, messageIDs []string) (map[string]domain.ReactionTally, error)
}

type ReadReceiptRepository interface {
	// InsertReadReceipt reports false when (MessageID, UserID) already exists.
	InsertReadReceipt(ctx context.Context, r *domain.ReadReceipt) (bool, error)
	HasRead(ctx context.Context, messageID, userID string) (bool, error)
	ReadersOf(ctx context.Context, messageIDs []string) (map[string][]string, error)
	CountReaders(ctx context.Context, messageID string) (int64, error)
	// LastRead returns the message of the user's most recent receipt in the room.
	LastRead(ctx context.Context, roomID, userID string) (string, bool, error)
}

type Store interface {
	MessageRepository
	ReactionRepository
	ReadReceiptRepository
	Close(ctx context.Context) error
}

const maxHistoryLimit = 200

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
