package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

func (r *PostgresRepo) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var conv model.Conversation
	err = r.read(ctx, "get", "conversation", func(db *gorm.DB) error {
		if err := db.Where("id = ? AND company_id = ?", id, companyID).First(&conv).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// lockConversation loads the conversation row FOR UPDATE.
func lockConversation(tx *gorm.DB, id, companyID string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND company_id = ?", id, companyID).
		First(&conv).Error; err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &conv, nil
}

// deactivateAssignments closes every active assignment on the conversation,
// optionally only the one held by agentID. It returns the number of rows touched.
func deactivateAssignments(tx *gorm.DB, conversationID, agentID string) (int64, error) {
	q := tx.Model(&model.ConversationAgent{}).Where("conversation_id = ? AND active = ?", conversationID, true)
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	res := q.Updates(map[string]interface{}{"active": false, "unassigned_at": utils.Now()})
	if res.Error != nil {
		return 0, checkConstraintViolation(res.Error)
	}
	return res.RowsAffected, nil
}

func invalidTransition(conv *model.Conversation, to model.ConversationStatus) error {
	return fmt.Errorf("%w: conversation %s cannot move from %s to %s", apperrors.ErrInvariantViolation, conv.ID, conv.Status, to)
}

// FindOrCreateActiveConversation returns the contact's OPEN/PENDING conversation,
// adding channel to its channel set, or creates one in the initial status.
// The contact row lock serializes concurrent callers for the same contact.
func (r *PostgresRepo) FindOrCreateActiveConversation(ctx context.Context, contactID string, channel model.Channel, initial model.ConversationStatus) (*model.Conversation, bool, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, false, err
	}
	if !initial.IsActive() {
		return nil, false, fmt.Errorf("%w: initial status %s is not active", apperrors.ErrValidation, initial)
	}

	var (
		conv    model.Conversation
		created bool
	)
	err = r.write(ctx, "find_or_create_active", "conversation", func(tx *gorm.DB) error {
		created = false
		var contact model.Contact
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ? AND company_id = ?", contactID, companyID).
			First(&contact).Error; err != nil {
			return checkConstraintViolation(err)
		}

		err := tx.Where("company_id = ? AND contact_id = ? AND status IN ?", companyID, contactID, activeConversationStatuses).
			Order("created_at DESC").
			First(&conv).Error
		switch {
		case err == nil:
			if conv.AddChannel(channel) {
				if err := tx.Model(&model.Conversation{}).
					Where("id = ?", conv.ID).
					Update("channels", conv.Channels).Error; err != nil {
					return checkConstraintViolation(err)
				}
			}
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return checkConstraintViolation(err)
		}

		channels, _ := json.Marshal([]model.Channel{channel})
		now := utils.Now()
		conv = model.Conversation{
			ID:             uuid.NewString(),
			CompanyID:      companyID,
			ContactID:      contactID,
			Status:         initial,
			Channels:       datatypes.JSON(channels),
			LastActivityAt: now,
		}
		if err := tx.Create(&conv).Error; err != nil {
			return checkConstraintViolation(err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		logger.FromContext(ctx).Info("Conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("contact_id", contactID),
			zap.String("status", string(conv.Status)),
		)
	}
	return &conv, created, nil
}

func (r *PostgresRepo) GetActiveAssignment(ctx context.Context, conversationID string) (*model.ConversationAgent, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var assignment model.ConversationAgent
	err = r.read(ctx, "get_active", "conversation_agent", func(db *gorm.DB) error {
		if err := db.Where("conversation_id = ? AND company_id = ? AND active = ?", conversationID, companyID, true).
			Order("assigned_at DESC").
			First(&assignment).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// AssignAgent makes agentID the single active assignee. Deactivation of the
// previous assignee and the insert of the new row commit together.
func (r *PostgresRepo) AssignAgent(ctx context.Context, conversationID, agentID string, reassign bool) (*model.ConversationAgent, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var result model.ConversationAgent
	err = r.write(ctx, "assign", "conversation_agent", func(tx *gorm.DB) error {
		conv, err := lockConversation(tx, conversationID, companyID)
		if err != nil {
			return err
		}
		if conv.Status == model.ConversationClosed {
			return fmt.Errorf("%w: conversation %s is closed", apperrors.ErrInvariantViolation, conversationID)
		}

		var agent model.User
		if err := tx.Where("id = ? AND company_id = ? AND active = ?", agentID, companyID, true).
			First(&agent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: agent %s", apperrors.ErrNotFound, agentID)
			}
			return checkConstraintViolation(err)
		}

		var current []model.ConversationAgent
		if err := tx.Where("conversation_id = ? AND active = ?", conversationID, true).
			Find(&current).Error; err != nil {
			return checkConstraintViolation(err)
		}

		now := utils.Now()
		if len(current) == 1 && current[0].AgentID == agentID {
			result = current[0]
			if conv.Status != model.ConversationOpen {
				if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
					Updates(map[string]interface{}{"status": model.ConversationOpen, "last_activity_at": now}).Error; err != nil {
					return checkConstraintViolation(err)
				}
			}
			return nil
		}
		for _, a := range current {
			if a.AgentID != agentID && !reassign {
				return fmt.Errorf("%w: held by %s", apperrors.ErrAlreadyAssigned, a.AgentID)
			}
		}

		if _, err := deactivateAssignments(tx, conversationID, ""); err != nil {
			return err
		}
		result = model.ConversationAgent{
			ID:             uuid.NewString(),
			CompanyID:      companyID,
			ConversationID: conversationID,
			AgentID:        agentID,
			Active:         true,
			AssignedAt:     now,
		}
		if err := tx.Create(&result).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
			Updates(map[string]interface{}{"status": model.ConversationOpen, "last_activity_at": now}).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UnassignAgent drops agentID's active assignment. A conversation left without
// an assignee falls back to PENDING.
func (r *PostgresRepo) UnassignAgent(ctx context.Context, conversationID, agentID string) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var conv *model.Conversation
	err = r.write(ctx, "unassign", "conversation_agent", func(tx *gorm.DB) error {
		var err error
		conv, err = lockConversation(tx, conversationID, companyID)
		if err != nil {
			return err
		}
		n, err := deactivateAssignments(tx, conversationID, agentID)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: agent %s has no active assignment on %s", apperrors.ErrNotFound, agentID, conversationID)
		}

		var remaining int64
		if err := tx.Model(&model.ConversationAgent{}).
			Where("conversation_id = ? AND active = ?", conversationID, true).
			Count(&remaining).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if remaining == 0 && conv.Status == model.ConversationOpen {
			if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
				Update("status", model.ConversationPending).Error; err != nil {
				return checkConstraintViolation(err)
			}
			conv.Status = model.ConversationPending
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *PostgresRepo) CloseConversation(ctx context.Context, conversationID string, rating *int) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, fmt.Errorf("%w: rating %d out of range 1..5", apperrors.ErrValidation, *rating)
	}

	var conv *model.Conversation
	err = r.write(ctx, "close", "conversation", func(tx *gorm.DB) error {
		var err error
		conv, err = lockConversation(tx, conversationID, companyID)
		if err != nil {
			return err
		}
		if !conv.Status.CanTransitionTo(model.ConversationClosed) {
			return invalidTransition(conv, model.ConversationClosed)
		}
		if _, err := deactivateAssignments(tx, conversationID, ""); err != nil {
			return err
		}

		now := utils.Now()
		updates := map[string]interface{}{"status": model.ConversationClosed, "closed_at": now}
		if rating != nil {
			updates["rating"] = *rating
			conv.Rating = rating
		}
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).Updates(updates).Error; err != nil {
			return checkConstraintViolation(err)
		}
		conv.Status = model.ConversationClosed
		conv.ClosedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *PostgresRepo) TransferConversation(ctx context.Context, conversationID, departmentID string) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var conv *model.Conversation
	err = r.write(ctx, "transfer", "conversation", func(tx *gorm.DB) error {
		var err error
		conv, err = lockConversation(tx, conversationID, companyID)
		if err != nil {
			return err
		}
		if !conv.Status.IsActive() {
			return invalidTransition(conv, model.ConversationPending)
		}
		if _, err := deactivateAssignments(tx, conversationID, ""); err != nil {
			return err
		}
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
			Updates(map[string]interface{}{"status": model.ConversationPending, "department_id": departmentID}).Error; err != nil {
			return checkConstraintViolation(err)
		}
		conv.Status = model.ConversationPending
		conv.DepartmentID = &departmentID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ReopenConversation moves a CLOSED conversation back to PENDING unless the
// contact already has another active conversation.
func (r *PostgresRepo) ReopenConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var conv *model.Conversation
	err = r.write(ctx, "reopen", "conversation", func(tx *gorm.DB) error {
		var err error
		conv, err = lockConversation(tx, conversationID, companyID)
		if err != nil {
			return err
		}
		if conv.Status != model.ConversationClosed {
			return invalidTransition(conv, model.ConversationPending)
		}

		var active int64
		if err := tx.Model(&model.Conversation{}).
			Where("company_id = ? AND contact_id = ? AND status IN ?", companyID, conv.ContactID, activeConversationStatuses).
			Count(&active).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if active > 0 {
			return fmt.Errorf("%w: contact %s already has an active conversation", apperrors.ErrInvariantViolation, conv.ContactID)
		}

		now := utils.Now()
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
			Updates(map[string]interface{}{"status": model.ConversationPending, "closed_at": nil, "last_activity_at": now}).Error; err != nil {
			return checkConstraintViolation(err)
		}
		conv.Status = model.ConversationPending
		conv.ClosedAt = nil
		conv.LastActivityAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// MarkConversationPending is used by routing when no agent can take the
// conversation. A conversation that still has an active assignee stays OPEN.
func (r *PostgresRepo) MarkConversationPending(ctx context.Context, conversationID string) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var conv *model.Conversation
	err = r.write(ctx, "mark_pending", "conversation", func(tx *gorm.DB) error {
		var err error
		conv, err = lockConversation(tx, conversationID, companyID)
		if err != nil {
			return err
		}
		if conv.Status == model.ConversationPending {
			return nil
		}
		if conv.Status != model.ConversationOpen {
			return invalidTransition(conv, model.ConversationPending)
		}
		var assigned int64
		if err := tx.Model(&model.ConversationAgent{}).
			Where("conversation_id = ? AND active = ?", conversationID, true).
			Count(&assigned).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if assigned > 0 {
			return nil
		}
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
			Update("status", model.ConversationPending).Error; err != nil {
			return checkConstraintViolation(err)
		}
		conv.Status = model.ConversationPending
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}
