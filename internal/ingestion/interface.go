package ingestion

import (
	"context"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

// RouterInterface dispatches a decoded event to the handler registered for
// its type. The consumer and the DLQ worker both route through it.
type RouterInterface interface {
	Register(eventType model.EventType, handler EventHandler)
	// RegisterDefault catches subjects no handler was registered for.
	RegisterDefault(handler EventHandler)
	Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error
}

// ConsumerInterface is the lifecycle of the inbound JetStream consumer.
type ConsumerInterface interface {
	// Setup declares the stream and the durable consumer.
	Setup() error
	Start() error
	Stop()
}

var (
	_ RouterInterface   = (*Router)(nil)
	_ ConsumerInterface = (*Consumer)(nil)
)
