package kafka

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
	"github.com/fathima-sithara/chat-fanout/internal/metrics"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler interface {
	Apply(ctx context.Context, ev domain.RoomEvent) error
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
}

type ConsumerConfig struct {
	Workers        int
	LaneBuffer     int
	CommitInterval time.Duration
	DrainTimeout   time.Duration
}

// Consumer reads the room log and hands each record to the lane owning its
// room. A lane applies its records one at a time, so events of one room are
// handled sequentially while different rooms proceed in parallel.
type Consumer struct {
	reader  Reader
	handler Handler
	cfg     ConsumerConfig
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func NewConsumer(reader Reader, handler Handler, cfg ConsumerConfig, m *metrics.Metrics, log *zap.SugaredLogger) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LaneBuffer <= 0 {
		cfg.LaneBuffer = 64
	}
	if cfg.CommitInterval <= 0 {
		cfg.CommitInterval = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	return &Consumer{reader: reader, handler: handler, cfg: cfg, metrics: m, log: log}
}

// Serve consumes until ctx is cancelled, then stops fetching, lets the lanes
// finish what they hold and commits before returning.
func (c *Consumer) Serve(ctx context.Context) error {
	tracker := newOffsetTracker()
	// in-flight work outlives the fetch loop
	workCtx := context.WithoutCancel(ctx)

	lanes := make([]chan *pending, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan *pending, c.cfg.LaneBuffer)
		wg.Add(1)
		go func(in <-chan *pending) {
			defer wg.Done()
			for p := range in {
				c.process(workCtx, p.msg)
				tracker.done(p)
			}
		}(lanes[i])
	}

	stopCommits := make(chan struct{})
	commitsDone := make(chan struct{})
	go func() {
		defer close(commitsDone)
		ticker := time.NewTicker(c.cfg.CommitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCommits:
				return
			case <-ticker.C:
				c.commit(workCtx, tracker)
			}
		}
	}()

	c.log.Infow("consumer started", "workers", c.cfg.Workers)
	c.fetchLoop(ctx, tracker, lanes)

	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()
	close(stopCommits)
	<-commitsDone

	drainCtx, cancel := context.WithTimeout(workCtx, c.cfg.DrainTimeout)
	defer cancel()
	c.commit(drainCtx, tracker)
	c.log.Infow("consumer stopped")
	return nil
}

func (c *Consumer) fetchLoop(ctx context.Context, tracker *offsetTracker, lanes []chan *pending) {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.log.Warnw("kafka fetch error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p := tracker.track(m)
		lane := lanes[laneFor(m.Key, len(lanes))]
		select {
		case lane <- p:
			continue
		default:
		}
		select {
		case lane <- p:
		case <-ctx.Done():
			// never processed, so never committed
			return
		}
	}
}

func (c *Consumer) process(ctx context.Context, m kafka.Message) {
	ev, err := domain.Decode(m.Value)
	if err != nil {
		c.metrics.UndecodableEvents.Inc()
		c.log.Errorw("skipping undecodable record",
			"partition", m.Partition, "offset", m.Offset, "key", string(m.Key), "error", err)
		return
	}
	// the projector logs and counts its own failures
	_ = c.handler.Apply(ctx, ev)
}

func (c *Consumer) commit(ctx context.Context, tracker *offsetTracker) {
	msgs := tracker.advance()
	if len(msgs) == 0 {
		return
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		c.log.Warnw("offset commit failed", "error", err)
		return
	}
	tracker.committed(msgs)
	for _, m := range msgs {
		c.metrics.CommittedOffsets.WithLabelValues(strconv.Itoa(m.Partition)).Set(float64(m.Offset))
	}
}

func laneFor(key []byte, n int) int {
	if n <= 1 || len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
