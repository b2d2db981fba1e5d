package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka publisher defaults.
const (
	DefaultTopic        = "flowpilot.flow-events"
	DefaultWriteTimeout = 10 * time.Second
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	slog.Debug("NewKafkaPublisher", "brokers", brokers, "topic", topic)
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: DefaultWriteTimeout,
		},
		topic: topic,
	}, nil
}

// Publish sends one event keyed by conversation id.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.ConversationID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("KafkaPublisher.Publish: write failed", "error", err, "topic", p.topic, "type", ev.Type, "conversationID", ev.ConversationID)
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}
	slog.Debug("KafkaPublisher.Publish: event sent", "topic", p.topic, "type", ev.Type, "conversationID", ev.ConversationID)
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
