package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	got []kafka.Message
	err error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.got = append(w.got, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerAppendKeysByRoom(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}
	if err := p.Append(context.Background(), []byte("general"), []byte(`{}`)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(w.got) != 1 || string(w.got[0].Key) != "general" {
		t.Fatalf("expected one record keyed by room, got %v", w.got)
	}

	w.err = errors.New("not enough replicas")
	if err := p.Append(context.Background(), []byte("general"), []byte(`{}`)); err == nil {
		t.Fatal("expected writer error to surface")
	}
}
