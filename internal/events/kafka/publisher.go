package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
)

// batchTimeout bounds how long a synchronous write waits for its batch to
// fill. kafka-go defaults to one second.
const batchTimeout = 5 * time.Millisecond

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends ledger events to Kafka as JSON.
type Publisher struct {
	writer messageWriter
}

// NewPublisher writes to brokers. The topic is chosen per message, and
// messages sharing a key land on the same partition.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           batchTimeout,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish marshals every message and writes them in one WriteMessages call.
func (p *Publisher) Publish(ctx context.Context, topic string, msgs ...interfaces.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m.Event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		out = append(out, kafka.Message{
			Topic: topic,
			Key:   []byte(m.Key),
			Value: data,
		})
	}

	return p.writer.WriteMessages(ctx, out...)
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
