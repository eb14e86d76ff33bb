package projector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-fanout/internal/cache"
	"github.com/fathima-sithara/chat-fanout/internal/domain"
	"github.com/fathima-sithara/chat-fanout/internal/errs"
	"github.com/fathima-sithara/chat-fanout/internal/hub"
	"github.com/fathima-sithara/chat-fanout/internal/metrics"
	"github.com/fathima-sithara/chat-fanout/internal/reaction"
	"github.com/fathima-sithara/chat-fanout/internal/readreceipt"
	"github.com/fathima-sithara/chat-fanout/internal/repository"
)

// flakyMessages fails SaveMessage for one message id.
type flakyMessages struct {
	repository.MessageRepository
	failID string
}

func (f *flakyMessages) SaveMessage(ctx context.Context, m *domain.Message) (bool, error) {
	if m.MessageID == f.failID {
		return false, errors.New("disk full")
	}
	return f.MessageRepository.SaveMessage(ctx, m)
}

type fixture struct {
	proj    *Projector
	state   *cache.Store
	hub     *hub.Hub
	metrics *metrics.Metrics
	mr      *miniredis.Miniredis
}

func newFixture(t *testing.T, opts Options, failID string) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := repository.NewSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	state := cache.NewStore(rdb, cache.DefaultOptions())
	m := metrics.New(prometheus.NewRegistry())
	h := hub.New(hub.NewLocalTransport(), 256, m, log)
	stop, err := h.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(stop)

	p := New(state,
		&flakyMessages{MessageRepository: store, failID: failID},
		reaction.NewAggregator(store, state, log),
		readreceipt.NewService(store, state, log),
		h, m, log, opts)
	return &fixture{proj: p, state: state, hub: h, metrics: m, mr: mr}
}

func message(room string, i int) *domain.Message {
	return &domain.Message{
		MessageID: fmt.Sprintf("m-%d", i), RoomID: room, UserID: "u-1", Username: "alice",
		Content: fmt.Sprintf("Message %d", i), Kind: domain.MessageText,
		Timestamp: time.Unix(int64(1700000000+i), 0).UTC(),
	}
}

func drain(s *hub.Subscription) []domain.RoomEvent {
	var out []domain.RoomEvent
	for {
		select {
		case data := <-s.Events():
			ev, err := domain.Decode(data)
			if err == nil {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func TestMessagesAreWindowedAndBroadcastInOrder(t *testing.T) {
	f := newFixture(t, Options{}, "")
	ctx := context.Background()
	sub := f.hub.Subscribe("general")

	for i := 1; i <= 51; i++ {
		if err := f.proj.Apply(ctx, message("general", i)); err != nil {
			t.Fatalf("Apply %d: %v", i, err)
		}
	}

	window, err := f.state.RecentMessages(ctx, "general")
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 50 || window[0].Content != "Message 2" || window[49].Content != "Message 51" {
		t.Fatalf("unexpected window: len=%d", len(window))
	}

	got := drain(sub)
	if len(got) != 51 {
		t.Fatalf("expected 51 broadcasts, got %d", len(got))
	}
	for i, ev := range got {
		if ev.ID() != fmt.Sprintf("m-%d", i+1) {
			t.Fatalf("broadcast %d out of order: %s", i, ev.ID())
		}
	}
}

func TestFailureDoesNotHaltRoom(t *testing.T) {
	f := newFixture(t, Options{}, "m-2")
	ctx := context.Background()
	sub := f.hub.Subscribe("general")

	for i := 1; i <= 3; i++ {
		err := f.proj.Apply(ctx, message("general", i))
		if i == 2 {
			if !errors.Is(err, errs.ErrProcessing) {
				t.Fatalf("expected ErrProcessing for m-2, got %v", err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Apply %d: %v", i, err)
		}
	}

	got := drain(sub)
	if len(got) != 2 || got[0].ID() != "m-1" || got[1].ID() != "m-3" {
		t.Fatalf("expected m-1 and m-3 broadcast, got %v", got)
	}
	window, _ := f.state.RecentMessages(ctx, "general")
	if len(window) != 2 {
		t.Errorf("expected failed message to be skipped in window, got %d entries", len(window))
	}
	if v := testutil.ToFloat64(f.metrics.ProjectionErrors.WithLabelValues("MESSAGE")); v != 1 {
		t.Errorf("expected 1 projection error, got %v", v)
	}
}

func TestRedeliveredMessage(t *testing.T) {
	t.Run("pushed again by default", func(t *testing.T) {
		f := newFixture(t, Options{}, "")
		ctx := context.Background()
		_ = f.proj.Apply(ctx, message("general", 1))
		_ = f.proj.Apply(ctx, message("general", 1))
		window, _ := f.state.RecentMessages(ctx, "general")
		if len(window) != 2 {
			t.Errorf("expected known duplicate in window, got %d entries", len(window))
		}
	})

	t.Run("suppressed when deduping", func(t *testing.T) {
		f := newFixture(t, Options{DedupeRecentWindow: true}, "")
		ctx := context.Background()
		sub := f.hub.Subscribe("general")
		_ = f.proj.Apply(ctx, message("general", 1))
		_ = f.proj.Apply(ctx, message("general", 1))
		window, _ := f.state.RecentMessages(ctx, "general")
		if len(window) != 1 {
			t.Errorf("expected single window entry, got %d", len(window))
		}
		if got := drain(sub); len(got) != 1 {
			t.Errorf("expected single broadcast, got %d", len(got))
		}
	})
}

func TestPresenceCarriesOnlineCount(t *testing.T) {
	f := newFixture(t, Options{}, "")
	ctx := context.Background()
	sub := f.hub.Subscribe("general")

	join := func(user string, action domain.PresenceAction) *domain.PresenceChange {
		return &domain.PresenceChange{EventID: "p-" + user + string(action), RoomID: "general",
			UserID: user, Action: action, Timestamp: time.Now().UTC()}
	}
	for _, ev := range []*domain.PresenceChange{
		join("u-1", domain.UserJoined),
		join("u-2", domain.UserJoined),
		join("u-1", domain.Heartbeat),
		join("u-1", domain.UserLeft),
	} {
		if err := f.proj.Apply(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	got := drain(sub)
	if len(got) != 3 {
		t.Fatalf("expected 3 presence broadcasts (heartbeat silent), got %d", len(got))
	}
	counts := []int64{1, 2, 1}
	for i, ev := range got {
		pc, ok := ev.(*domain.PresenceChange)
		if !ok || pc.OnlineCount == nil {
			t.Fatalf("broadcast %d missing online count: %#v", i, ev)
		}
		if *pc.OnlineCount != counts[i] {
			t.Errorf("broadcast %d: expected count %d, got %d", i, counts[i], *pc.OnlineCount)
		}
	}
	users, _ := f.state.RoomUsers(ctx, "general")
	if len(users) != 1 || users[0] != "u-2" {
		t.Errorf("expected [u-2], got %v", users)
	}
}

func TestReactionsBroadcastEvenWhenDuplicate(t *testing.T) {
	f := newFixture(t, Options{}, "")
	ctx := context.Background()
	sub := f.hub.Subscribe("general")

	r := &domain.Reaction{ReactionID: "r-1", MessageID: "m-1", RoomID: "general", UserID: "u-2",
		Kind: domain.Wow, Action: domain.ReactionAdd, Timestamp: time.Now().UTC()}
	for i := 0; i < 2; i++ {
		if err := f.proj.Apply(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if got := drain(sub); len(got) != 2 {
		t.Errorf("expected 2 reaction broadcasts, got %d", len(got))
	}
	if v := testutil.ToFloat64(f.metrics.Duplicates.WithLabelValues("REACTION")); v != 1 {
		t.Errorf("expected 1 suppressed duplicate, got %v", v)
	}
}

func TestReadReceiptBroadcastOnlyWhenAccepted(t *testing.T) {
	f := newFixture(t, Options{}, "")
	ctx := context.Background()
	sub := f.hub.Subscribe("general")

	rr := &domain.ReadReceipt{EventID: "rr-1", RoomID: "general", UserID: "u-3", MessageID: "m-1"}
	if err := f.proj.Apply(ctx, rr); err != nil {
		t.Fatal(err)
	}
	if err := f.proj.Apply(ctx, rr); err != nil {
		t.Fatal(err)
	}
	got := drain(sub)
	if len(got) != 1 {
		t.Fatalf("expected 1 read receipt broadcast, got %d", len(got))
	}
	if receipt := got[0].(*domain.ReadReceipt); receipt.Timestamp.IsZero() {
		t.Error("expected server-assigned timestamp on broadcast")
	}
}

func TestTyping(t *testing.T) {
	f := newFixture(t, Options{}, "")
	ctx := context.Background()
	sub := f.hub.Subscribe("general")

	ev := &domain.Typing{EventID: "t-1", RoomID: "general", UserID: "u-1", IsTyping: true, Timestamp: time.Now().UTC()}
	if err := f.proj.Apply(ctx, ev); err != nil {
		t.Fatal(err)
	}
	users, err := f.state.TypingUsers(ctx, "general")
	if err != nil || len(users) != 1 {
		t.Fatalf("expected u-1 typing, got %v %v", users, err)
	}
	if got := drain(sub); len(got) != 1 || got[0].Type() != domain.TypeTyping {
		t.Errorf("expected typing broadcast, got %v", got)
	}
}
