package eventpublisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/iho/eventledger/internal/adapter/codec"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysByAccount(t *testing.T) {
	w := &recordingWriter{}
	pub := newKafkaPublisher(w)

	if err := pub.Publish(context.Background(), outboxEvent("evt-1", "acc-7", 3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(w.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != "acc-7" {
		t.Fatalf("expected key acc-7, got %s", msg.Key)
	}
	if len(msg.Headers) != 1 || msg.Headers[0].Key != eventTypeHeader || string(msg.Headers[0].Value) != "funds.credited" {
		t.Fatalf("unexpected headers %#v", msg.Headers)
	}

	var envelope codec.Message
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.EventID != "evt-1" || envelope.Version != 3 || envelope.AggregateID != "acc-7" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}

func TestKafkaPublisherReturnsWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	pub := newKafkaPublisher(w)

	if err := pub.Publish(context.Background(), outboxEvent("evt-1", "acc-7", 3)); err == nil {
		t.Fatal("expected write error")
	}

	if err := pub.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer to be closed, err=%v", err)
	}
}
