package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// StartCampaign begins sending a DRAFT or SCHEDULED campaign now.
func (s *EventService) StartCampaign(ctx context.Context, payload model.CampaignCommandPayload) error {
	const op = "start campaign"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	c, err := s.campaigns.Start(ctx, payload.CampaignID)
	if err != nil {
		return handleServiceError(ctx, err, op, zap.String("campaign_id", payload.CampaignID))
	}
	logger.FromContext(ctx).Info("Campaign started",
		zap.String("campaign_id", c.ID),
		zap.Int("recipients", len(c.Recipients)),
	)
	return nil
}

// CancelCampaign stops a running campaign or withdraws a pending one.
func (s *EventService) CancelCampaign(ctx context.Context, payload model.CampaignCommandPayload) error {
	const op = "cancel campaign"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	return handleServiceError(ctx, s.campaigns.Cancel(ctx, payload.CampaignID), op,
		zap.String("campaign_id", payload.CampaignID),
	)
}

func (s *EventService) ScheduleCampaign(ctx context.Context, payload model.CampaignCommandPayload) error {
	const op = "schedule campaign"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	if payload.ScheduledAt == nil {
		err := fmt.Errorf("%w: scheduled_at is required", apperrors.ErrValidation)
		return apperrors.NewFatal(err, "%s payload validation failed", op)
	}
	_, err := s.campaigns.Schedule(ctx, payload.CampaignID, *payload.ScheduledAt)
	return handleServiceError(ctx, err, op, zap.String("campaign_id", payload.CampaignID))
}
