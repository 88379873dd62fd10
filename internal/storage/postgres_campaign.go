package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

func (r *PostgresRepo) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var campaign model.Campaign
	err = r.read(ctx, "get", "campaign", func(db *gorm.DB) error {
		if err := db.Where("id = ? AND company_id = ?", id, companyID).First(&campaign).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func lockCampaign(tx *gorm.DB, id, companyID string) (*model.Campaign, error) {
	var campaign model.Campaign
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND company_id = ?", id, companyID).
		First(&campaign).Error; err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &campaign, nil
}

// TransitionCampaign moves the campaign to status to. SENDING stamps
// started_at and terminal statuses stamp completed_at.
func (r *PostgresRepo) TransitionCampaign(ctx context.Context, id string, to model.CampaignStatus, at time.Time) (*model.Campaign, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var campaign *model.Campaign
	err = r.write(ctx, "transition", "campaign", func(tx *gorm.DB) error {
		var err error
		campaign, err = lockCampaign(tx, id, companyID)
		if err != nil {
			return err
		}
		if !campaign.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: campaign %s cannot move from %s to %s", apperrors.ErrInvariantViolation, id, campaign.Status, to)
		}

		updates := map[string]interface{}{"status": to}
		switch {
		case to == model.CampaignSending && campaign.StartedAt == nil:
			updates["started_at"] = at
			campaign.StartedAt = &at
		case to.IsTerminal():
			updates["completed_at"] = at
			campaign.CompletedAt = &at
		}
		if err := tx.Model(&model.Campaign{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return checkConstraintViolation(err)
		}
		campaign.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

func (r *PostgresRepo) ScheduleCampaign(ctx context.Context, id string, at time.Time) (*model.Campaign, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var campaign *model.Campaign
	err = r.write(ctx, "schedule", "campaign", func(tx *gorm.DB) error {
		var err error
		campaign, err = lockCampaign(tx, id, companyID)
		if err != nil {
			return err
		}
		if !campaign.Status.CanTransitionTo(model.CampaignScheduled) {
			return fmt.Errorf("%w: campaign %s cannot be scheduled from %s", apperrors.ErrInvariantViolation, id, campaign.Status)
		}
		if err := tx.Model(&model.Campaign{}).Where("id = ?", id).
			Updates(map[string]interface{}{"status": model.CampaignScheduled, "scheduled_at": at}).Error; err != nil {
			return checkConstraintViolation(err)
		}
		campaign.Status = model.CampaignScheduled
		campaign.ScheduledAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// SaveCampaignProgress persists the resume cursor and counters after a batch.
// The delivered counter belongs to delivery receipts and is kept as stored.
func (r *PostgresRepo) SaveCampaignProgress(ctx context.Context, id string, processed int, results model.CampaignResults) error {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return err
	}

	return r.write(ctx, "save_progress", "campaign", func(tx *gorm.DB) error {
		res := tx.Model(&model.Campaign{}).
			Where("id = ? AND company_id = ?", id, companyID).
			Updates(map[string]interface{}{
				"processed": processed,
				"results": gorm.Expr(`jsonb_set(?::jsonb, '{delivered}', COALESCE(results->'delivered', '0'::jsonb))`,
					datatypes.NewJSONType(results)),
			})
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: campaign %s", apperrors.ErrNotFound, id)
		}
		return nil
	})
}

// ListDueCampaigns returns SCHEDULED campaigns whose scheduled_at is not after now.
func (r *PostgresRepo) ListDueCampaigns(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var campaigns []model.Campaign
	err = r.read(ctx, "list_due", "campaign", func(db *gorm.DB) error {
		if err := db.Where("company_id = ? AND status = ? AND scheduled_at <= ?", companyID, model.CampaignScheduled, now).
			Order("scheduled_at ASC").
			Find(&campaigns).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *PostgresRepo) ListCampaignsByStatus(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var campaigns []model.Campaign
	err = r.read(ctx, "list_by_status", "campaign", func(db *gorm.DB) error {
		if err := db.Where("company_id = ? AND status = ?", companyID, status).
			Order("created_at ASC").
			Find(&campaigns).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}
