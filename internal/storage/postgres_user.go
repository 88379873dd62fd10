package storage

import (
	"context"

	"gorm.io/gorm"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

func (r *PostgresRepo) GetUser(ctx context.Context, id string) (*model.User, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var user model.User
	err = r.read(ctx, "get", "user", func(db *gorm.DB) error {
		if err := db.Where("id = ? AND company_id = ?", id, companyID).First(&user).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListActiveUsers returns the company's active users ordered by id.
func (r *PostgresRepo) ListActiveUsers(ctx context.Context) ([]model.User, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var users []model.User
	err = r.read(ctx, "list_active", "user", func(db *gorm.DB) error {
		if err := db.Where("company_id = ? AND active = ?", companyID, true).
			Order("id ASC").
			Find(&users).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *PostgresRepo) GetAgentLoads(ctx context.Context, agentIDs []string) (map[string]int64, error) {
	loads := make(map[string]int64, len(agentIDs))
	if len(agentIDs) == 0 {
		return loads, nil
	}
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.AgentLoad
	err = r.read(ctx, "agent_loads", "conversation_agent", func(db *gorm.DB) error {
		active := db.Model(&model.Conversation{}).
			Select("id").
			Where("company_id = ? AND status IN ?", companyID, activeConversationStatuses)
		if err := db.Model(&model.ConversationAgent{}).
			Select("agent_id, COUNT(*) AS active_count").
			Where("company_id = ? AND active = ? AND agent_id IN ? AND conversation_id IN (?)", companyID, true, agentIDs, active).
			Group("agent_id").
			Scan(&rows).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		loads[row.AgentID] = row.ActiveCount
	}
	return loads, nil
}
