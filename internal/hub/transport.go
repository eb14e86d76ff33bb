package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// RedisTransport fans frames out over a single Redis pub/sub channel.
type RedisTransport struct {
	rdb     *redis.Client
	channel string
}

func NewRedisTransport(rdb *redis.Client, channel string) *RedisTransport {
	return &RedisTransport{rdb: rdb, channel: channel}
}

func (t *RedisTransport) Publish(ctx context.Context, data []byte) error {
	return t.rdb.Publish(ctx, t.channel, data).Err()
}

func (t *RedisTransport) Subscribe(ctx context.Context, fn func([]byte)) (func(), error) {
	ps := t.rdb.Subscribe(ctx, t.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", t.channel, err)
	}
	ch := ps.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			fn([]byte(msg.Payload))
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ps.Close()
			<-done
		})
	}, nil
}

// NATSTransport fans frames out on a NATS subject. NATS invokes a
// subscription's handler serially, which keeps publish order.
type NATSTransport struct {
	nc      *nats.Conn
	subject string
}

func NewNATSTransport(nc *nats.Conn, subject string) *NATSTransport {
	return &NATSTransport{nc: nc, subject: subject}
}

func (t *NATSTransport) Publish(_ context.Context, data []byte) error {
	return t.nc.Publish(t.subject, data)
}

func (t *NATSTransport) Subscribe(_ context.Context, fn func([]byte)) (func(), error) {
	sub, err := t.nc.Subscribe(t.subject, func(m *nats.Msg) { fn(m.Data) })
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t.subject, err)
	}
	if err := t.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", t.subject, err)
	}
	var once sync.Once
	return func() { once.Do(func() { _ = sub.Unsubscribe() }) }, nil
}

// LocalTransport delivers synchronously inside one process.
type LocalTransport struct {
	mu   sync.RWMutex
	next int
	subs map[int]func([]byte)
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{subs: make(map[int]func([]byte))}
}

func (t *LocalTransport) Publish(_ context.Context, data []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, fn := range t.subs {
		fn(data)
	}
	return nil
}

func (t *LocalTransport) Subscribe(_ context.Context, fn func([]byte)) (func(), error) {
	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}, nil
}
