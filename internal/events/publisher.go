package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Publisher publishes outcome events to a Kafka topic.
type Publisher interface {
	PublishOutcome(ctx context.Context, topic string, ev OutcomeEvent) error
	Close() error
}

type publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Kafka publisher connected to the given brokers.
func NewPublisher(brokers []string) Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{}, // route by key → one mailbox's events stay ordered
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		// Auto-create topics if they don't exist
		AllowAutoTopicCreation: true,
	}
	return &publisher{writer: w}
}

func (p *publisher) PublishOutcome(ctx context.Context, topic string, ev OutcomeEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal outcome event: %w", err)
	}

	// Inject the active trace context into message headers so downstream
	// consumers can extract and continue the trace.
	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(ev.ItemKey),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (p *publisher) Close() error {
	return p.writer.Close()
}
