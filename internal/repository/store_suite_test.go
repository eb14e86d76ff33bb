package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
)

// runStoreSuite exercises behaviour every Store driver must share.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("message upsert is idempotent", func(t *testing.T) {
		m := &domain.Message{MessageID: "m-1", RoomID: "general", UserID: "u-1", Username: "alice",
			Content: "hi", Kind: domain.MessageText, Timestamp: base}
		inserted, err := s.SaveMessage(ctx, m)
		if err != nil || !inserted {
			t.Fatalf("expected insert, got %v %v", inserted, err)
		}
		inserted, err = s.SaveMessage(ctx, m)
		if err != nil || inserted {
			t.Fatalf("expected duplicate save to be a no-op, got %v %v", inserted, err)
		}
		if err := s.EnsureRoom(ctx, "general"); err != nil {
			t.Fatal(err)
		}
		if err := s.EnsureRoom(ctx, "general"); err != nil {
			t.Fatalf("EnsureRoom twice: %v", err)
		}
	})

	t.Run("history is newest first", func(t *testing.T) {
		for i := 2; i <= 5; i++ {
			m := &domain.Message{MessageID: fmt.Sprintf("m-%d", i), RoomID: "general", UserID: "u-1",
				Username: "alice", Content: "x", Kind: domain.MessageText, Timestamp: base.Add(time.Duration(i) * time.Minute)}
			if _, err := s.SaveMessage(ctx, m); err != nil {
				t.Fatal(err)
			}
		}
		got, err := s.History(ctx, "general", base.Add(5*time.Minute), 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].MessageID != "m-4" || got[1].MessageID != "m-3" {
			t.Fatalf("expected [m-4 m-3], got %v", ids(got))
		}
	})

	t.Run("reactions are unique per user and kind", func(t *testing.T) {
		r := &domain.Reaction{ReactionID: "r-1", MessageID: "m-1", RoomID: "general", UserID: "u-2",
			Kind: domain.Heart, Action: domain.ReactionAdd, Timestamp: base}
		inserted, err := s.AddReaction(ctx, r)
		if err != nil || !inserted {
			t.Fatalf("expected insert, got %v %v", inserted, err)
		}
		inserted, err = s.AddReaction(ctx, r)
		if err != nil || inserted {
			t.Fatalf("expected duplicate to be a no-op, got %v %v", inserted, err)
		}
		r2 := *r
		r2.Kind = domain.Fire
		if _, err := s.AddReaction(ctx, &r2); err != nil {
			t.Fatal(err)
		}

		got, err := s.ReactionsForMessages(ctx, []string{"m-1", "m-2"})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := got["m-2"]; ok {
			t.Error("expected message without reactions to be omitted")
		}
		if got["m-1"].Count(domain.Heart) != 1 || got["m-1"].Count(domain.Fire) != 1 {
			t.Errorf("expected one HEART and one FIRE, got %v", got["m-1"])
		}

		removed, err := s.RemoveReaction(ctx, "m-1", "u-2", domain.Heart)
		if err != nil || !removed {
			t.Fatalf("expected removal, got %v %v", removed, err)
		}
		removed, _ = s.RemoveReaction(ctx, "m-1", "u-2", domain.Heart)
		if removed {
			t.Error("expected second removal to be a no-op")
		}
	})

	t.Run("read receipts dedupe on message and user", func(t *testing.T) {
		rr := &domain.ReadReceipt{EventID: "rr-1", RoomID: "general", UserID: "u-3", MessageID: "m-1", Timestamp: base}
		inserted, err := s.InsertReadReceipt(ctx, rr)
		if err != nil || !inserted {
			t.Fatalf("expected insert, got %v %v", inserted, err)
		}
		again := *rr
		again.EventID = "rr-2"
		inserted, err = s.InsertReadReceipt(ctx, &again)
		if err != nil || inserted {
			t.Fatalf("expected duplicate to be rejected, got %v %v", inserted, err)
		}

		reused := &domain.ReadReceipt{EventID: "rr-1", RoomID: "general", UserID: "u-4", MessageID: "m-1", Timestamp: base}
		if inserted, err := s.InsertReadReceipt(ctx, reused); err == nil || inserted {
			t.Fatalf("expected id collision to fail, got %v %v", inserted, err)
		}

		later := &domain.ReadReceipt{EventID: "rr-3", RoomID: "general", UserID: "u-3", MessageID: "m-2", Timestamp: base.Add(time.Minute)}
		if _, err := s.InsertReadReceipt(ctx, later); err != nil {
			t.Fatal(err)
		}

		ok, err := s.HasRead(ctx, "m-1", "u-3")
		if err != nil || !ok {
			t.Errorf("expected u-3 to have read m-1, got %v %v", ok, err)
		}
		n, err := s.CountReaders(ctx, "m-1")
		if err != nil || n != 1 {
			t.Errorf("expected 1 reader, got %d %v", n, err)
		}
		readers, err := s.ReadersOf(ctx, []string{"m-1", "m-9"})
		if err != nil {
			t.Fatal(err)
		}
		if len(readers["m-1"]) != 1 || readers["m-1"][0] != "u-3" {
			t.Errorf("expected [u-3], got %v", readers["m-1"])
		}
		last, ok, err := s.LastRead(ctx, "general", "u-3")
		if err != nil || !ok || last != "m-2" {
			t.Errorf("expected last read m-2, got %q %v %v", last, ok, err)
		}
		if _, ok, _ := s.LastRead(ctx, "general", "nobody"); ok {
			t.Error("expected no cursor for unknown user")
		}
	})
}

func ids(ms []*domain.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.MessageID
	}
	return out
}
