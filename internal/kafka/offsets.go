package kafka

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type partitionKey struct {
	topic     string
	partition int
}

type pending struct {
	msg  kafka.Message
	done bool
}

// offsetTracker records fetched records in fetch order per partition and
// exposes, per partition, the highest record below which everything has
// been processed. Lanes finish out of order; commits never skip a gap.
// A record fetched twice (redelivery after a rebalance) gets two entries,
// each completed through the handle track returned for it.
type offsetTracker struct {
	mu          sync.Mutex
	queues      map[partitionKey][]*pending
	committable map[partitionKey]kafka.Message
	// highest committed offset per partition
	high map[partitionKey]int64
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		queues:      make(map[partitionKey][]*pending),
		committable: make(map[partitionKey]kafka.Message),
		high:        make(map[partitionKey]int64),
	}
}

func (t *offsetTracker) track(m kafka.Message) *pending {
	k := partitionKey{m.Topic, m.Partition}
	p := &pending{msg: m}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queues[k] = append(t.queues[k], p)
	return p
}

func (t *offsetTracker) done(p *pending) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.done = true
}

// advance pops finished records off each queue head and returns the records
// that can be committed.
func (t *offsetTracker) advance() []kafka.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, q := range t.queues {
		i := 0
		for i < len(q) && q[i].done {
			if t.ahead(k, q[i].msg.Offset) {
				t.committable[k] = q[i].msg
			}
			i++
		}
		t.queues[k] = q[i:]
	}
	out := make([]kafka.Message, 0, len(t.committable))
	for _, m := range t.committable {
		out = append(out, m)
	}
	return out
}

// committed forgets records whose offsets were durably committed.
func (t *offsetTracker) committed(msgs []kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		k := partitionKey{m.Topic, m.Partition}
		if h, ok := t.high[k]; !ok || m.Offset > h {
			t.high[k] = m.Offset
		}
		if cur, ok := t.committable[k]; ok && cur.Offset == m.Offset {
			delete(t.committable, k)
		}
	}
}

// ahead reports whether offset moves partition k forward. Callers hold mu.
func (t *offsetTracker) ahead(k partitionKey, offset int64) bool {
	if cur, ok := t.committable[k]; ok && offset <= cur.Offset {
		return false
	}
	if h, ok := t.high[k]; ok && offset <= h {
		return false
	}
	return true
}
