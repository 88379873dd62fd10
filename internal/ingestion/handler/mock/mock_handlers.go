package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

// MockEventHandler is a mock for the EventHandlerInterface
type MockEventHandler struct {
	mock.Mock
}

// HandleEvent mocks the HandleEvent method
func (m *MockEventHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	args := m.Called(ctx, eventType, metadata, rawEvent)
	return args.Error(0)
}
