package interfaces

import "context"

// Message is one event and the key that picks its partition.
type Message struct {
	Key   string
	Event any
}

// EventPublisher writes msgs to topic in a single call, so events produced by
// one operation are sent together.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, msgs ...Message) error
}
