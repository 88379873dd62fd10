package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is the JetStream surface the consumers, the DLQ worker and
// the publishers depend on.
type ClientInterface interface {
	// SetupStream creates the stream or updates it when its config drifted.
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error
	// SetupConsumer creates the durable consumer on streamName or updates it.
	SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error
	// SubscribePush binds a queue-group push subscription to an existing durable.
	SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error)
	// SubscribePull binds a pull subscription to an existing durable.
	SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error)
	Publish(subject string, data []byte, headers map[string]string) error
	Close()
	NatsConn() *nats.Conn
}
