package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/models"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := &KafkaPublisher{writer: fw, topic: DefaultTopic}

	ev := Event{
		Type:           TypeDispatchInitiated,
		ConversationID: "conv-9",
		FlowType:       models.FlowTypeEmergencyAssessment,
		Urgent:         true,
		Timestamp:      time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "conv-9" {
		t.Errorf("expected key conv-9, got %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(TypeDispatchInitiated) {
		t.Errorf("unexpected headers: %+v", msg.Headers)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if decoded.Type != TypeDispatchInitiated || !decoded.Urgent || decoded.FlowType != models.FlowTypeEmergencyAssessment {
		t.Errorf("unexpected payload: %+v", decoded)
	}

	if err := p.Close(); err != nil || !fw.closed {
		t.Errorf("Close should close the writer (err=%v)", err)
	}
}

func TestKafkaPublisher_WrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &fakeWriter{err: boom}, topic: "t"}
	err := p.Publish(context.Background(), Event{Type: TypeFlowStarted, ConversationID: "c"})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped broker error, got %v", err)
	}
}

func TestNewKafkaPublisher(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "t"); err == nil {
		t.Error("expected error without brokers")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "")
	if err != nil {
		t.Fatalf("NewKafkaPublisher failed: %v", err)
	}
	if p.topic != DefaultTopic {
		t.Errorf("expected default topic, got %q", p.topic)
	}
	w, ok := p.writer.(*kafka.Writer)
	if !ok || w.Topic != DefaultTopic {
		t.Errorf("expected a kafka.Writer for %s, got %#v", DefaultTopic, p.writer)
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	_ = r.Publish(context.Background(), Event{Type: TypeFlowStarted})
	_ = r.Publish(context.Background(), Event{Type: TypeFlowCompleted})

	types := r.Types()
	if len(types) != 2 || types[0] != TypeFlowStarted || types[1] != TypeFlowCompleted {
		t.Errorf("unexpected types: %v", types)
	}
	evs := r.Events()
	evs[0].Type = "changed"
	if r.Events()[0].Type != TypeFlowStarted {
		t.Error("Events should return a copy")
	}

	var p Publisher = NoopPublisher{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Errorf("noop publish failed: %v", err)
	}
}
