package projector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
	"github.com/fathima-sithara/chat-fanout/internal/errs"
	"github.com/fathima-sithara/chat-fanout/internal/metrics"
	"github.com/fathima-sithara/chat-fanout/internal/readreceipt"
	"github.com/fathima-sithara/chat-fanout/internal/repository"
)

type StateStore interface {
	CacheRecentMessage(ctx context.Context, m *domain.Message) error
	AddUserToRoom(ctx context.Context, roomID, userID string) error
	RemoveUserFromRoom(ctx context.Context, roomID, userID string) error
	RefreshPresence(ctx context.Context, roomID string) error
	RoomUserCount(ctx context.Context, roomID string) (int64, error)
	SetTyping(ctx context.Context, roomID, userID string, typing bool) error
}

type Reactions interface {
	Add(ctx context.Context, r *domain.Reaction) (domain.Outcome, error)
	Remove(ctx context.Context, r *domain.Reaction) (domain.Outcome, error)
}

type ReadReceipts interface {
	Apply(ctx context.Context, r *domain.ReadReceipt) (readreceipt.Result, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, roomID string, ev domain.RoomEvent) error
}

type Options struct {
	// DedupeRecentWindow skips the window push and broadcast for messages
	// already in durable storage. Off by default, redelivery then appends
	// the message to the window a second time.
	DedupeRecentWindow bool
}

// Projector applies decoded room events to durable storage, the ephemeral
// store and fan-out. Callers must serialize calls per room.
type Projector struct {
	state       StateStore
	messages    repository.MessageRepository
	reactions   Reactions
	receipts    ReadReceipts
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	log         *zap.SugaredLogger
	opts        Options
}

func New(
	state StateStore,
	messages repository.MessageRepository,
	reactions Reactions,
	receipts ReadReceipts,
	broadcaster Broadcaster,
	m *metrics.Metrics,
	log *zap.SugaredLogger,
	opts Options,
) *Projector {
	return &Projector{
		state:       state,
		messages:    messages,
		reactions:   reactions,
		receipts:    receipts,
		broadcaster: broadcaster,
		metrics:     m,
		log:         log,
		opts:        opts,
	}
}

// Apply projects one event. Errors wrap errs.ErrProcessing and are already
// logged and counted; the caller moves on to the next event.
func (p *Projector) Apply(ctx context.Context, ev domain.RoomEvent) error {
	outcome, err := p.apply(ctx, ev)
	if err != nil {
		p.metrics.ProjectionErrors.WithLabelValues(string(ev.Type())).Inc()
		p.log.Errorw("event projection failed",
			"type", ev.Type(), "room_id", ev.Room(), "event_id", ev.ID(), "error", err)
		if !errors.Is(err, errs.ErrProcessing) {
			err = fmt.Errorf("%w: %w", errs.ErrProcessing, err)
		}
		return err
	}
	if outcome == domain.Duplicate {
		p.metrics.Duplicates.WithLabelValues(string(ev.Type())).Inc()
		p.log.Debugw("duplicate suppressed", "type", ev.Type(), "room_id", ev.Room(), "event_id", ev.ID())
	}
	p.metrics.Projected.WithLabelValues(string(ev.Type()), outcome.String()).Inc()
	return nil
}

func (p *Projector) apply(ctx context.Context, ev domain.RoomEvent) (domain.Outcome, error) {
	switch e := ev.(type) {
	case *domain.Message:
		return p.applyMessage(ctx, e)
	case *domain.PresenceChange:
		return p.applyPresence(ctx, e)
	case *domain.Typing:
		return p.applyTyping(ctx, e)
	case *domain.Reaction:
		return p.applyReaction(ctx, e)
	case *domain.ReadReceipt:
		return p.applyReadReceipt(ctx, e)
	default:
		return 0, fmt.Errorf("%w: unsupported event %T", errs.ErrProcessing, ev)
	}
}

// durable first, then the window, then fan-out
func (p *Projector) applyMessage(ctx context.Context, m *domain.Message) (domain.Outcome, error) {
	if err := p.messages.EnsureRoom(ctx, m.RoomID); err != nil {
		return 0, err
	}
	inserted, err := p.messages.SaveMessage(ctx, m)
	if err != nil {
		return 0, err
	}
	if !inserted {
		if p.opts.DedupeRecentWindow {
			return domain.Duplicate, nil
		}
		p.log.Debugw("message already stored, projecting again", "room_id", m.RoomID, "message_id", m.MessageID)
	}
	if err := p.state.CacheRecentMessage(ctx, m); err != nil {
		return 0, err
	}
	if err := p.broadcaster.Broadcast(ctx, m.RoomID, m); err != nil {
		return 0, err
	}
	return domain.Accepted, nil
}

func (p *Projector) applyPresence(ctx context.Context, e *domain.PresenceChange) (domain.Outcome, error) {
	switch e.Action {
	case domain.UserJoined:
		if err := p.state.AddUserToRoom(ctx, e.RoomID, e.UserID); err != nil {
			return 0, err
		}
	case domain.UserLeft:
		if err := p.state.RemoveUserFromRoom(ctx, e.RoomID, e.UserID); err != nil {
			return 0, err
		}
	case domain.Heartbeat:
		if err := p.state.RefreshPresence(ctx, e.RoomID); err != nil {
			return 0, err
		}
		return domain.Accepted, nil
	default:
		return 0, fmt.Errorf("unknown presence action %q", e.Action)
	}

	n, err := p.state.RoomUserCount(ctx, e.RoomID)
	if err != nil {
		return 0, err
	}
	enriched := *e
	enriched.OnlineCount = &n
	if err := p.broadcaster.Broadcast(ctx, e.RoomID, &enriched); err != nil {
		return 0, err
	}
	return domain.Accepted, nil
}

func (p *Projector) applyTyping(ctx context.Context, e *domain.Typing) (domain.Outcome, error) {
	if err := p.state.SetTyping(ctx, e.RoomID, e.UserID, e.IsTyping); err != nil {
		return 0, err
	}
	if err := p.broadcaster.Broadcast(ctx, e.RoomID, e); err != nil {
		return 0, err
	}
	return domain.Accepted, nil
}

// Reactions broadcast even when nothing changed, subscribers treat the
// event as idempotent.
func (p *Projector) applyReaction(ctx context.Context, r *domain.Reaction) (domain.Outcome, error) {
	var (
		outcome domain.Outcome
		err     error
	)
	switch r.Action {
	case domain.ReactionAdd:
		outcome, err = p.reactions.Add(ctx, r)
	case domain.ReactionRemove:
		outcome, err = p.reactions.Remove(ctx, r)
	default:
		return 0, fmt.Errorf("unknown reaction action %q", r.Action)
	}
	if err != nil {
		return 0, err
	}
	if err := p.broadcaster.Broadcast(ctx, r.RoomID, r); err != nil {
		return 0, err
	}
	return outcome, nil
}

func (p *Projector) applyReadReceipt(ctx context.Context, r *domain.ReadReceipt) (domain.Outcome, error) {
	res, err := p.receipts.Apply(ctx, r)
	if err != nil {
		return 0, err
	}
	if res.Outcome != domain.Accepted {
		return res.Outcome, nil
	}
	if err := p.broadcaster.Broadcast(ctx, r.RoomID, res.Receipt); err != nil {
		return 0, err
	}
	return domain.Accepted, nil
}
