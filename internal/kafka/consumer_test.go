package kafka

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
	"github.com/fathima-sithara/chat-fanout/internal/metrics"
)

type fakeReader struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	next    int
	commits []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.next < len(r.msgs) {
		m := r.msgs[r.next]
		r.next++
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) lastCommitted(partition int) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := int64(-1)
	for _, m := range r.commits {
		if m.Partition == partition && m.Offset > last {
			last = m.Offset
		}
	}
	return last
}

// recordingHandler tracks per-room order and flags overlapping calls for
// the same room.
type recordingHandler struct {
	mu       sync.Mutex
	byRoom   map[string][]string
	inFlight map[string]bool
	overlap  bool
	total    int
	delay    time.Duration
}

func newRecordingHandler(delay time.Duration) *recordingHandler {
	return &recordingHandler{byRoom: map[string][]string{}, inFlight: map[string]bool{}, delay: delay}
}

func (h *recordingHandler) Apply(_ context.Context, ev domain.RoomEvent) error {
	h.mu.Lock()
	if h.inFlight[ev.Room()] {
		h.overlap = true
	}
	h.inFlight[ev.Room()] = true
	h.mu.Unlock()

	time.Sleep(h.delay)

	h.mu.Lock()
	h.inFlight[ev.Room()] = false
	h.byRoom[ev.Room()] = append(h.byRoom[ev.Room()], ev.ID())
	h.total++
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

func record(t *testing.T, partition int, offset int64, room string, i int) kafka.Message {
	t.Helper()
	value, err := domain.Encode(&domain.Message{
		MessageID: fmt.Sprintf("%s-%d", room, i), RoomID: room, UserID: "u", Username: "u",
		Content: "x", Kind: domain.MessageText, Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Topic: "room-events", Partition: partition, Offset: offset, Key: []byte(room), Value: value}
}

func newTestConsumer(reader Reader, handler Handler) *Consumer {
	return NewConsumer(reader, handler, ConsumerConfig{Workers: 4, CommitInterval: 10 * time.Millisecond},
		metrics.New(prometheus.NewRegistry()), zap.NewNop().Sugar())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConsumerPreservesPerRoomOrder(t *testing.T) {
	reader := &fakeReader{}
	rooms := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	offsets := map[int]int64{}
	for i := 0; i < 20; i++ {
		for p, room := range rooms {
			part := p % 2
			reader.msgs = append(reader.msgs, record(t, part, offsets[part], room, i))
			offsets[part]++
		}
	}
	handler := newRecordingHandler(time.Millisecond)
	c := newTestConsumer(reader, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	waitFor(t, func() bool { return handler.count() == len(reader.msgs) })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if handler.overlap {
		t.Error("events of one room were applied concurrently")
	}
	for _, room := range rooms {
		got := handler.byRoom[room]
		if len(got) != 20 {
			t.Fatalf("room %s: expected 20 events, got %d", room, len(got))
		}
		for i, id := range got {
			if id != fmt.Sprintf("%s-%d", room, i) {
				t.Fatalf("room %s out of order at %d: %s", room, i, id)
			}
		}
	}
	for part, next := range offsets {
		if got := reader.lastCommitted(part); got != next-1 {
			t.Errorf("partition %d: expected commit at %d, got %d", part, next-1, got)
		}
	}
}

func TestConsumerSkipsUndecodableRecords(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		record(t, 0, 0, "alpha", 0),
		{Topic: "room-events", Partition: 0, Offset: 1, Key: []byte("alpha"), Value: []byte("garbage")},
		record(t, 0, 2, "alpha", 2),
	}}
	handler := newRecordingHandler(0)
	c := newTestConsumer(reader, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	waitFor(t, func() bool { return handler.count() == 2 })
	cancel()
	<-done

	if got := handler.byRoom["alpha"]; len(got) != 2 || got[1] != "alpha-2" {
		t.Errorf("expected alpha-0 and alpha-2, got %v", got)
	}
	if got := reader.lastCommitted(0); got != 2 {
		t.Errorf("expected commit past the bad record, got %d", got)
	}
}

func TestConsumerDrainsBeforeCommit(t *testing.T) {
	reader := &fakeReader{}
	for i := 0; i < 10; i++ {
		reader.msgs = append(reader.msgs, record(t, 0, int64(i), "alpha", i))
	}
	handler := newRecordingHandler(20 * time.Millisecond)
	c := newTestConsumer(reader, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	waitFor(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return reader.next == len(reader.msgs)
	})
	cancel()
	<-done

	if got := handler.count(); got != 10 {
		t.Fatalf("expected all 10 fetched events applied before exit, got %d", got)
	}
	if got := reader.lastCommitted(0); got != 9 {
		t.Errorf("expected final commit at 9, got %d", got)
	}
}

func TestOffsetTrackerCommitsContiguousPrefix(t *testing.T) {
	tr := newOffsetTracker()
	msgs := []kafka.Message{
		{Topic: "t", Partition: 0, Offset: 10},
		{Topic: "t", Partition: 0, Offset: 11},
		{Topic: "t", Partition: 0, Offset: 13},
	}
	var handles []*pending
	for _, m := range msgs {
		handles = append(handles, tr.track(m))
	}

	tr.done(handles[1])
	if got := tr.advance(); len(got) != 0 {
		t.Fatalf("expected nothing committable with a gap, got %v", got)
	}
	tr.done(handles[0])
	got := tr.advance()
	if len(got) != 1 || got[0].Offset != 11 {
		t.Fatalf("expected offset 11 committable, got %v", got)
	}
	tr.committed(got)
	if got := tr.advance(); len(got) != 0 {
		t.Fatalf("expected nothing after commit, got %v", got)
	}
	tr.done(handles[2])
	if got := tr.advance(); len(got) != 1 || got[0].Offset != 13 {
		t.Fatalf("expected offset 13 committable, got %v", got)
	}
}

func TestOffsetTrackerRedeliveredRecord(t *testing.T) {
	tr := newOffsetTracker()
	m5 := kafka.Message{Topic: "t", Partition: 0, Offset: 5}
	m6 := kafka.Message{Topic: "t", Partition: 0, Offset: 6}

	first := tr.track(m5)
	again := tr.track(m5)
	tr.done(first)
	tr.done(again)
	tr.done(tr.track(m6))

	got := tr.advance()
	if len(got) != 1 || got[0].Offset != 6 {
		t.Fatalf("expected offset 6 committable, got %v", got)
	}
	tr.committed(got)

	// a redelivered record behind the committed offset never moves it back
	tr.done(tr.track(m5))
	if got := tr.advance(); len(got) != 0 {
		t.Fatalf("expected nothing committable after stale redelivery, got %v", got)
	}
}

func TestLaneForIsStable(t *testing.T) {
	for _, room := range []string{"a", "general", "room-42"} {
		first := laneFor([]byte(room), 8)
		for i := 0; i < 5; i++ {
			if laneFor([]byte(room), 8) != first {
				t.Fatalf("lane for %s changed", room)
			}
		}
	}
	if laneFor(nil, 8) != 0 {
		t.Error("expected empty key on lane 0")
	}
}
