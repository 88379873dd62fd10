package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// EventHandlerInterface defines the common interface for event handlers
type EventHandlerInterface interface {
	// HandleEvent processes an event
	HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error
}

// Ensure the handlers implement the interface
var (
	_ EventHandlerInterface = (*ConversationHandler)(nil)
	_ EventHandlerInterface = (*SessionHandler)(nil)
	_ EventHandlerInterface = (*CampaignHandler)(nil)
)

// decode unmarshals a payload. Malformed JSON never gets better on
// redelivery, so it is fatal.
func decode[T any](ctx context.Context, rawEvent []byte, what string) (T, error) {
	var payload T
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		logger.FromContext(ctx).Error("Failed to unmarshal payload", zap.String("payload", what), zap.Error(err))
		return payload, apperrors.NewFatal(err, "failed to unmarshal %s payload", what)
	}
	return payload, nil
}

func unsupported(ctx context.Context, eventType model.EventType, kind string) error {
	logger.FromContext(ctx).Error("Unsupported event type", zap.String("handler", kind), zap.String("eventType", string(eventType)))
	return apperrors.NewFatal(apperrors.ErrBadRequest, "unsupported %s event type: %s", kind, eventType)
}
