package usecase

import (
	"context"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

// SaveExhaustedEvent records an event the DLQ worker gave up on.
func (s *EventService) SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error {
	return s.exhaustedEventRepo.SaveExhaustedEvent(ctx, event)
}
