// Package kafka publishes verdict events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/goacyber/scamhound/internal/pipeline"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher wraps a Kafka writer.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a Publisher for the given broker and topic.
func NewPublisher(broker, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

// NewPublisherWithWriter builds a Publisher using a custom writer (tests).
func NewPublisherWithWriter(writer messageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Publish marshals the payload and writes one message. Verdict events are
// keyed by target identifier so per-target ordering is preserved.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := kafka.Message{
		Value: data,
		Time:  time.Now().UTC(),
	}
	if event, ok := payload.(pipeline.VerdictEvent); ok {
		msg.Key = []byte(event.Identifier)
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write message: %w", err)
	}
	return string(msg.Key), nil
}
