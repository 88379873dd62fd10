package ingestion

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// EventHandler defines a function that processes events
type EventHandler func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error

// Router routes events to the appropriate handler based on event type
type Router struct {
	handlers       map[model.EventType]EventHandler
	defaultHandler EventHandler
}

// NewRouter creates a new event router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[model.EventType]EventHandler),
	}
}

// Register registers a handler for an event type
// This handles the exact event type match (including version if present)
func (r *Router) Register(eventType model.EventType, handler EventHandler) {
	r.handlers[eventType] = handler
}

// RegisterDefault registers a default handler for unknown event types
func (r *Router) RegisterDefault(handler EventHandler) {
	r.defaultHandler = handler
}

// Route routes an event to the appropriate handler
func (r *Router) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	// Add event metadata to the log context
	log = log.With(
		zap.String("event_type", metadata.MessageSubject),
		zap.String("event_id", metadata.MessageID),
		zap.String("company_id", metadata.CompanyID),
	)
	ctx = logger.WithLogger(ctx, log)

	// Add tenant to context
	if metadata.CompanyID != "" {
		ctx = tenant.WithCompanyID(ctx, metadata.CompanyID)
	}

	eventType, found := model.MapToBaseEventType(metadata.MessageSubject)
	if !found {
		log.Warn("Could not map subject to a known event type", zap.String("subject", metadata.MessageSubject))
	}

	log.Debug("Event received",
		zap.String("type", string(eventType)),
		zap.Int("payload_bytes", len(rawEvent)),
	)

	handler, ok := r.handlers[eventType]
	if !ok && r.defaultHandler != nil {
		log.Warn("No specific handler for event type, using default")
		return r.defaultHandler(ctx, eventType, metadata, rawEvent)
	} else if !ok {
		log.Error("No handler registered for event type")
		return apperrors.NewFatal(apperrors.ErrBadRequest, "no handler for subject %s", metadata.MessageSubject)
	}

	return handler(ctx, eventType, metadata, rawEvent)
}
