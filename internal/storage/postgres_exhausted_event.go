package storage

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// SaveExhaustedEvent records an event that ran out of DLQ retries.
func (r *PostgresRepo) SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error {
	err := r.write(ctx, "save", "exhausted_event", func(tx *gorm.DB) error {
		if err := tx.Create(&event).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		logger.FromContext(ctx).Error("Failed to save exhausted event",
			zap.String("source_subject", event.SourceSubject),
			zap.String("company_id", event.CompanyID),
			zap.Error(err))
		return err
	}

	logger.FromContext(ctx).Info("Exhausted event saved", zap.Uint("event_id", event.ID), zap.String("source_subject", event.SourceSubject))
	return nil
}
