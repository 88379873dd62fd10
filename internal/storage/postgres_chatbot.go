package storage

import (
	"context"

	"gorm.io/gorm"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

// FindEnabledChatbot returns the company's most recently updated enabled bot.
func (r *PostgresRepo) FindEnabledChatbot(ctx context.Context) (*model.Chatbot, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var bot model.Chatbot
	err = r.read(ctx, "find_enabled", "chatbot", func(db *gorm.DB) error {
		if err := db.Where("company_id = ? AND enabled = ?", companyID, true).
			Order("updated_at DESC").
			First(&bot).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (r *PostgresRepo) ListConnectedAccounts(ctx context.Context, channel model.Channel) ([]model.ChannelAccount, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var accounts []model.ChannelAccount
	err = r.read(ctx, "list_connected", "channel_account", func(db *gorm.DB) error {
		if err := db.Where("company_id = ? AND channel = ? AND connected = ?", companyID, channel, true).
			Order("created_at ASC").
			Find(&accounts).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}
