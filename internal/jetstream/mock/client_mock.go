package mock

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/jetstream"
)

// ClientMock stands in for the JetStream client. Subscriptions come back as
// nil since nats.Subscription cannot be built outside a live connection.
type ClientMock struct {
	mock.Mock
}

var _ jetstream.ClientInterface = (*ClientMock)(nil)

func (m *ClientMock) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	return m.Called(ctx, streamConfig).Error(0)
}

func (m *ClientMock) SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error {
	return m.Called(ctx, streamName, consumerConfig).Error(0)
}

func (m *ClientMock) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, consumer, group, stream, handler)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

func (m *ClientMock) SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error) {
	args := m.Called(streamName, subject, consumer)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

func (m *ClientMock) Publish(subject string, data []byte, headers map[string]string) error {
	return m.Called(subject, data, headers).Error(0)
}

func (m *ClientMock) NatsConn() *nats.Conn {
	nc, _ := m.Called().Get(0).(*nats.Conn)
	return nc
}

func (m *ClientMock) Close() {
	m.Called()
}

// MockSubscription is the placeholder subscription returned by Subscribe mocks.
func MockSubscription() *nats.Subscription {
	return nil
}
