package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
	"github.com/fathima-sithara/chat-fanout/internal/errs"
	"github.com/fathima-sithara/chat-fanout/internal/metrics"
)

// Appender writes one keyed record to the durable log and returns only after
// the log acknowledged it.
type Appender interface {
	Append(ctx context.Context, key, value []byte) error
}

type Config struct {
	Timeout         time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	BreakerInterval time.Duration
}

type Ingestor struct {
	appender Appender
	cb       *gobreaker.CircuitBreaker
	cfg      Config
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
}

func New(appender Appender, cfg Config, m *metrics.Metrics, log *zap.SugaredLogger) *Ingestor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 50 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	st := gobreaker.Settings{
		Name:        "log-append",
		MaxRequests: 1,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Ingestor{
		appender: appender,
		cb:       gobreaker.NewCircuitBreaker(st),
		cfg:      cfg,
		metrics:  m,
		log:      log,
	}
}

// Ingest validates ev and appends it to the log keyed by its room. It returns
// nil only after the append was acknowledged. Validation failures wrap
// errs.ErrInvalidEvent and are not retried; exhausted retries wrap
// errs.ErrAppendFailed.
func (i *Ingestor) Ingest(ctx context.Context, ev domain.RoomEvent) error {
	if err := domain.Validate(ev); err != nil {
		i.metrics.IngestFailures.WithLabelValues("invalid").Inc()
		return err
	}
	value, err := domain.Encode(ev)
	if err != nil {
		i.metrics.IngestFailures.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %w", errs.ErrInvalidEvent, err)
	}
	key := []byte(ev.Room())

	if i.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.Timeout)
		defer cancel()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = i.cfg.InitialBackoff
	eb.MaxInterval = i.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(i.cfg.MaxAttempts-1)), ctx)

	attempts := 0
	operation := func() error {
		attempts++
		_, err := i.cb.Execute(func() (interface{}, error) {
			return nil, i.appender.Append(ctx, key, value)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(operation, b); err != nil {
		i.metrics.IngestFailures.WithLabelValues("append").Inc()
		i.log.Warnw("append failed", "type", ev.Type(), "room_id", ev.Room(), "event_id", ev.ID(),
			"attempts", attempts, "error", err)
		return fmt.Errorf("%w: %w", errs.ErrAppendFailed, err)
	}
	i.metrics.Ingested.WithLabelValues(string(ev.Type())).Inc()
	return nil
}
