package usecase

import (
	"fmt"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/storage"
)

// EventService is the facade the ingestion handlers call. Each inbound event
// type maps to one method on it.
type EventService struct {
	messages           *MessageProcessor
	sessions           *SessionService
	conversations      *ConversationService
	campaigns          *CampaignDispatcher
	exhaustedEventRepo storage.ExhaustedEventRepo
}

// NewEventService creates a new event service
func NewEventService(
	messages *MessageProcessor,
	sessions *SessionService,
	conversations *ConversationService,
	campaigns *CampaignDispatcher,
	exhaustedEventRepo storage.ExhaustedEventRepo,
) *EventService {
	return &EventService{
		messages:           messages,
		sessions:           sessions,
		conversations:      conversations,
		campaigns:          campaigns,
		exhaustedEventRepo: exhaustedEventRepo,
	}
}

// unavailable reports transient store failures as a collaborator outage so
// callers can tell them apart from domain errors. Other errors keep their
// sentinel and only gain the operation name.
func unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	if apperrors.IsDatabaseError(err) || apperrors.IsConflictError(err) || apperrors.IsTimeoutError(err) {
		if apperrors.IsCollaboratorUnavailable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%w: %s: %w", apperrors.ErrCollaboratorUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
