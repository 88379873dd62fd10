package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

// SaveMessage inserts msg and moves the conversation's last_activity_at forward.
func (r *PostgresRepo) SaveMessage(ctx context.Context, msg *model.Message) error {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return err
	}
	if msg.CompanyID != companyID {
		return fmt.Errorf("%w: message company %q does not match context %q", apperrors.ErrBadRequest, msg.CompanyID, companyID)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	return r.write(ctx, "save", "message", func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if err := tx.Model(&model.Conversation{}).
			Where("id = ? AND company_id = ? AND last_activity_at < ?", msg.ConversationID, companyID, msg.SentAt).
			Update("last_activity_at", msg.SentAt).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
}

// ListRecentMessages returns the newest limit messages in chronological order.
func (r *PostgresRepo) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	var messages []model.Message
	err = r.read(ctx, "list_recent", "message", func(db *gorm.DB) error {
		if err := db.Where("conversation_id = ? AND company_id = ?", conversationID, companyID).
			Order("sent_at DESC").
			Limit(limit).
			Find(&messages).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *PostgresRepo) LatestInboundMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var msg model.Message
	err = r.read(ctx, "latest_inbound", "message", func(db *gorm.DB) error {
		if err := db.Where("conversation_id = ? AND company_id = ? AND direction = ?", conversationID, companyID, model.DirectionInbound).
			Order("sent_at DESC").
			First(&msg).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessageStatus matches messageID against the id or the channel's external id.
// A campaign message reaching DELIVERED bumps the campaign's delivered counter
// in the same transaction.
func (r *PostgresRepo) UpdateMessageStatus(ctx context.Context, messageID string, status model.DeliveryStatus) (*model.Message, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var msg model.Message
	err = r.write(ctx, "update_status", "message", func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("company_id = ? AND (id = ? OR external_id = ?)", companyID, messageID, messageID).
			First(&msg).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if msg.Status == status {
			return nil
		}
		if !msg.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: message %s cannot move from %s to %s", apperrors.ErrInvariantViolation, msg.ID, msg.Status, status)
		}
		if err := tx.Model(&model.Message{}).Where("id = ?", msg.ID).Update("status", status).Error; err != nil {
			return checkConstraintViolation(err)
		}
		msg.Status = status
		if status == model.DeliveryDelivered && msg.CampaignID != nil {
			return countCampaignDelivery(tx, companyID, *msg.CampaignID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func countCampaignDelivery(tx *gorm.DB, companyID, campaignID string) error {
	res := tx.Model(&model.Campaign{}).
		Where("id = ? AND company_id = ?", campaignID, companyID).
		Update("results", gorm.Expr(
			`jsonb_set(COALESCE(results, '{}'::jsonb), '{delivered}', to_jsonb(COALESCE((results->>'delivered')::int, 0) + 1))`,
		))
	if res.Error != nil {
		return checkConstraintViolation(res.Error)
	}
	return nil
}
