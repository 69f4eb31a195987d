// Package stream publishes appended events to Kafka for downstream
// consumers such as accounting and the reconciliation jobs.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher writes every appended event to a Kafka topic keyed by
// correlation ID, so one workflow's events stay ordered in one partition.
type EventPublisher struct {
	writer messageWriter
	Topic  string
}

// NewEventPublisher creates an asynchronous publisher. Write failures are
// reported through the logger since the append has already happened.
func NewEventPublisher(brokers []string, topic string, logger *slog.Logger) *EventPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("kafka write failed", "topic", topic, "messages", len(messages), "error", err)
			}
		},
	}
	return &EventPublisher{writer: writer, Topic: topic}
}

// Notify publishes one appended event.
func (p *EventPublisher) Notify(ctx context.Context, e domain.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.CorrelationID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the underlying writer.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
