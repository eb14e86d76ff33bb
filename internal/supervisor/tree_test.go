package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestServiceIsRestartedAfterFailure(t *testing.T) {
	tree := NewTree(zap.NewNop().Sugar(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	var runs atomic.Int32
	tree.AddMessagingService(Service("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("lost broker")
		}
		<-ctx.Done()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errc := tree.ServeBackground(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected service restarted, ran %d times", runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-errc:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestServiceName(t *testing.T) {
	svc := Service("consumer", func(context.Context) error { return nil })
	if s, ok := svc.(interface{ String() string }); !ok || s.String() != "consumer" {
		t.Errorf("expected service named consumer, got %v", svc)
	}
}
