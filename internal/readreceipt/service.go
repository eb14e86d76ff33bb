package readreceipt

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
	"github.com/fathima-sithara/chat-fanout/internal/errs"
	"github.com/fathima-sithara/chat-fanout/internal/repository"
)

type Cache interface {
	LastRead(ctx context.Context, roomID, userID string) (string, bool, error)
	SetLastRead(ctx context.Context, roomID, userID, messageID string) error
}

type Result struct {
	Outcome domain.Outcome
	// Receipt is set only when Outcome is Accepted and carries the
	// server-assigned read time.
	Receipt *domain.ReadReceipt
}

type Service struct {
	store repository.ReadReceiptRepository
	cache Cache
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewService(store repository.ReadReceiptRepository, cache Cache, log *zap.SugaredLogger) *Service {
	return &Service{store: store, cache: cache, log: log, now: time.Now}
}

// MarkAsRead records that userID read messageID in roomID.
func (s *Service) MarkAsRead(ctx context.Context, roomID, userID, messageID string) (Result, error) {
	return s.Apply(ctx, &domain.ReadReceipt{
		EventID:   uuid.NewString(),
		RoomID:    roomID,
		UserID:    userID,
		MessageID: messageID,
	})
}

// Apply runs the dedup sequence for a receipt taken from the log: cursor
// check, durable existence check, insert, then cursor update. The cursor is
// not monotonic; it follows the latest receipt that reached the durable check.
func (s *Service) Apply(ctx context.Context, r *domain.ReadReceipt) (Result, error) {
	last, ok, err := s.cache.LastRead(ctx, r.RoomID, r.UserID)
	if err != nil {
		s.log.Warnw("read cursor lookup failed", "room_id", r.RoomID, "user_id", r.UserID, "error", err)
	} else if ok && last == r.MessageID {
		return Result{Outcome: domain.Duplicate}, nil
	}

	seen, err := s.store.HasRead(ctx, r.MessageID, r.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", errs.ErrProcessing, err)
	}
	if seen {
		s.setCursor(ctx, r)
		return Result{Outcome: domain.Duplicate}, nil
	}

	accepted := *r
	accepted.Timestamp = s.now().UTC()
	inserted, err := s.store.InsertReadReceipt(ctx, &accepted)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", errs.ErrProcessing, err)
	}
	s.setCursor(ctx, r)
	if !inserted {
		return Result{Outcome: domain.Duplicate}, nil
	}
	return Result{Outcome: domain.Accepted, Receipt: &accepted}, nil
}

// setCursor moves the cached cursor to r, also on the duplicate paths so an
// evicted cursor is re-seeded.
func (s *Service) setCursor(ctx context.Context, r *domain.ReadReceipt) {
	if err := s.cache.SetLastRead(ctx, r.RoomID, r.UserID, r.MessageID); err != nil {
		s.log.Warnw("read cursor update failed", "room_id", r.RoomID, "user_id", r.UserID, "error", err)
	}
}

func (s *Service) ReadStatusForMessages(ctx context.Context, messageIDs []string) (map[string][]string, error) {
	return s.store.ReadersOf(ctx, messageIDs)
}

func (s *Service) UsersWhoRead(ctx context.Context, messageID string) ([]string, error) {
	readers, err := s.store.ReadersOf(ctx, []string{messageID})
	if err != nil {
		return nil, err
	}
	if users, ok := readers[messageID]; ok {
		return users, nil
	}
	return []string{}, nil
}

// LastReadMessageID prefers the cached cursor and falls back to the latest
// stored receipt, re-seeding the cache.
func (s *Service) LastReadMessageID(ctx context.Context, roomID, userID string) (string, bool, error) {
	if id, ok, err := s.cache.LastRead(ctx, roomID, userID); err == nil && ok {
		return id, true, nil
	}
	id, ok, err := s.store.LastRead(ctx, roomID, userID)
	if err != nil || !ok {
		return "", false, err
	}
	if err := s.cache.SetLastRead(ctx, roomID, userID, id); err != nil {
		s.log.Warnw("read cursor warm failed", "room_id", roomID, "user_id", userID, "error", err)
	}
	return id, true, nil
}

func (s *Service) ReadCount(ctx context.Context, messageID string) (int64, error) {
	return s.store.CountReaders(ctx, messageID)
}

func (s *Service) HasUserRead(ctx context.Context, messageID, userID string) (bool, error) {
	return s.store.HasRead(ctx, messageID, userID)
}
