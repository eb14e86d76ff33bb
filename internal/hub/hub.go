package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
	"github.com/fathima-sithara/chat-fanout/internal/metrics"
)

// Frame is what travels between processes: the room it belongs to and the
// encoded event envelope.
type Frame struct {
	RoomID string          `json:"room_id"`
	Event  json.RawMessage `json:"event"`
}

// Transport carries frames to every process, including the publisher.
type Transport interface {
	Publish(ctx context.Context, data []byte) error
	// Subscribe starts delivering frames to fn, in publish order, and
	// returns once the subscription is live.
	Subscribe(ctx context.Context, fn func([]byte)) (stop func(), err error)
}

type Subscription struct {
	room string
	ch   chan []byte
	once sync.Once
}

// Events yields encoded envelopes. It is closed when the subscriber is
// unsubscribed or dropped for falling behind.
func (s *Subscription) Events() <-chan []byte { return s.ch }

func (s *Subscription) Room() string { return s.room }

func (s *Subscription) close() { s.once.Do(func() { close(s.ch) }) }

// Hub fans room events out to the subscribers connected to this process.
// Events reach local subscribers only through the transport, so every
// process sees the same per-room order and nothing is delivered twice.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*Subscription]struct{}
	buffer    int
	transport Transport
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger
}

func New(transport Transport, buffer int, m *metrics.Metrics, log *zap.SugaredLogger) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		rooms:     make(map[string]map[*Subscription]struct{}),
		buffer:    buffer,
		transport: transport,
		metrics:   m,
		log:       log,
	}
}

func (h *Hub) Subscribe(roomID string) *Subscription {
	s := &Subscription{room: roomID, ch: make(chan []byte, h.buffer)}
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Subscription]struct{})
	}
	h.rooms[roomID][s] = struct{}{}
	h.mu.Unlock()
	h.metrics.Subscribers.Inc()
	return s
}

func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	subs, ok := h.rooms[s.room]
	if ok {
		if _, member := subs[s]; member {
			delete(subs, s)
			h.metrics.Subscribers.Dec()
		}
		if len(subs) == 0 {
			delete(h.rooms, s.room)
		}
	}
	h.mu.Unlock()
	s.close()
}

// Broadcast publishes ev to every subscriber of roomID on every process.
func (h *Hub) Broadcast(ctx context.Context, roomID string, ev domain.RoomEvent) error {
	payload, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Frame{RoomID: roomID, Event: payload})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := h.transport.Publish(ctx, frame); err != nil {
		return fmt.Errorf("publish %s to room %s: %w", ev.Type(), roomID, err)
	}
	h.metrics.Broadcasts.WithLabelValues(string(ev.Type())).Inc()
	return nil
}

// Start subscribes the transport; the returned func stops delivery.
func (h *Hub) Start(ctx context.Context) (func(), error) {
	return h.transport.Subscribe(ctx, h.dispatch)
}

// Serve runs delivery until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context) error {
	stop, err := h.Start(ctx)
	if err != nil {
		return err
	}
	h.log.Infow("fan-out subscriber started")
	<-ctx.Done()
	stop()
	return nil
}

// Close drops every local subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()
	for _, subs := range rooms {
		for s := range subs {
			h.metrics.Subscribers.Dec()
			s.close()
		}
	}
}

func (h *Hub) dispatch(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		h.log.Warnw("dropping malformed fan-out frame", "error", err)
		return
	}
	h.deliverLocal(f.RoomID, f.Event)
}

func (h *Hub) deliverLocal(roomID string, payload []byte) {
	var slow []*Subscription
	h.mu.RLock()
	for s := range h.rooms[roomID] {
		select {
		case s.ch <- payload:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.log.Warnw("dropping slow subscriber", "room_id", roomID)
		h.metrics.SlowSubscribers.Inc()
		h.Unsubscribe(s)
	}
}
