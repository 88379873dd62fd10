package usecase

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/validator"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

// handleServiceError logs a failed operation and classifies it for the
// consumer: store, broker and collaborator outages are retried, everything
// else goes to the DLQ as fatal.
func handleServiceError(ctx context.Context, err error, operation string, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	log := logger.FromContext(ctx)
	logFields := append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)

	switch {
	case apperrors.IsCollaboratorUnavailable(err), apperrors.IsDatabaseError(err), apperrors.IsNATSError(err):
		log.Error("Operation failed: dependency unavailable", logFields...)
	case apperrors.IsTimeoutError(err), apperrors.IsConflictError(err):
		log.Warn("Operation failed: transient error", logFields...)
	case apperrors.IsNotFoundError(err):
		log.Warn("Operation failed: resource not found", logFields...)
	case apperrors.IsInvariantViolation(err):
		log.Warn("Operation rejected: invariant violation", logFields...)
	default:
		log.Warn("Operation failed", logFields...)
	}
	return apperrors.Classify(err, "%s failed", operation)
}

// validatePayload rejects malformed payloads as fatal; a redelivery would
// carry the same bytes.
func validatePayload(ctx context.Context, payload interface{}, operation string) error {
	if err := validator.Validate(payload); err != nil {
		logger.FromContext(ctx).Error("Payload validation failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return apperrors.NewFatal(err, "%s payload validation failed", operation)
	}
	return nil
}

// ProcessInboundMessage runs one customer message through contact
// resolution, conversation attachment and routing.
func (s *EventService) ProcessInboundMessage(ctx context.Context, payload model.InboundMessagePayload) error {
	const op = "process inbound message"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	start := utils.Now()

	outcome, err := s.messages.ProcessInbound(ctx, payload)
	if err != nil {
		return handleServiceError(ctx, err, op,
			zap.String("channel", string(payload.Channel)),
			zap.String("message_id", payload.MessageID),
		)
	}

	if outcome.Kind != "" {
		logger.FromContext(ctx).Info("Inbound message processed",
			zap.String("channel", string(payload.Channel)),
			zap.String("outcome", string(outcome.Kind)),
			zap.String("agent_id", outcome.AgentID),
			zap.Duration("duration", utils.Now().Sub(start)),
		)
	}
	return nil
}

// UpdateMessageStatus applies a delivery receipt.
func (s *EventService) UpdateMessageStatus(ctx context.Context, payload model.MessageStatusPayload) error {
	const op = "update message status"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	if _, err := s.messages.UpdateStatus(ctx, payload); err != nil {
		return handleServiceError(ctx, err, op, zap.String("message_id", payload.MessageID))
	}
	return nil
}
