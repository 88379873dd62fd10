package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

func (r *PostgresRepo) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var contact model.Contact
	err = r.read(ctx, "get", "contact", func(db *gorm.DB) error {
		if err := db.Where("id = ? AND company_id = ?", id, companyID).First(&contact).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// FindContactByIdentity looks the contact up through contact_identities.
func (r *PostgresRepo) FindContactByIdentity(ctx context.Context, channel model.Channel, externalID string) (*model.Contact, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var contact model.Contact
	err = r.read(ctx, "find_by_identity", "contact", func(db *gorm.DB) error {
		identity := db.Model(&model.ContactIdentity{}).
			Select("contact_id").
			Where("company_id = ? AND channel = ? AND external_id = ?", companyID, channel, externalID)
		if err := db.Where("company_id = ? AND id IN (?)", companyID, identity).First(&contact).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *PostgresRepo) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	return r.findContactBy(ctx, "find_by_phone", "phone", phone)
}

func (r *PostgresRepo) FindContactByEmail(ctx context.Context, email string) (*model.Contact, error) {
	return r.findContactBy(ctx, "find_by_email", "email", email)
}

func (r *PostgresRepo) FindContactIdentity(ctx context.Context, contactID string, channel model.Channel) (*model.ContactIdentity, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var identity model.ContactIdentity
	err = r.read(ctx, "find_identity", "contact_identity", func(db *gorm.DB) error {
		if err := db.Where("company_id = ? AND contact_id = ? AND channel = ?", companyID, contactID, channel).
			Order("created_at DESC").
			First(&identity).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *PostgresRepo) findContactBy(ctx context.Context, op, column, value string) (*model.Contact, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: empty %s", apperrors.ErrNotFound, column)
	}
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var contact model.Contact
	err = r.read(ctx, op, "contact", func(db *gorm.DB) error {
		if err := db.Where("company_id = ? AND "+column+" = ?", companyID, value).
			Order("created_at ASC").
			First(&contact).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// CreateContact inserts contact and identity in one transaction.
func (r *PostgresRepo) CreateContact(ctx context.Context, contact *model.Contact, identity *model.ContactIdentity) error {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return err
	}
	if contact.CompanyID != companyID {
		return fmt.Errorf("%w: contact company %q does not match context %q", apperrors.ErrBadRequest, contact.CompanyID, companyID)
	}
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	identity.CompanyID = companyID
	identity.ContactID = contact.ID

	err = r.write(ctx, "create", "contact", func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(contact).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if err := tx.Create(identity).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("Contact created",
		zap.String("contact_id", contact.ID),
		zap.String("channel", string(identity.Channel)),
	)
	return nil
}

// MergeContactIdentity links identity to contactID unless the pair is already
// mapped, then refreshes last_contact_at and empty profile fields.
func (r *PostgresRepo) MergeContactIdentity(ctx context.Context, contactID string, identity *model.ContactIdentity, hints model.ContactHints, at time.Time) (*model.Contact, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var contact model.Contact
	err = r.write(ctx, "merge_identity", "contact", func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND company_id = ?", contactID, companyID).
			First(&contact).Error; err != nil {
			return checkConstraintViolation(err)
		}

		if identity != nil {
			row := *identity
			if row.ID == "" {
				row.ID = uuid.NewString()
			}
			row.CompanyID = companyID
			row.ContactID = contactID
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return checkConstraintViolation(err)
			}
		}

		updates := map[string]interface{}{"last_contact_at": at}
		if contact.DisplayName == "" && hints.DisplayName != "" {
			updates["display_name"] = hints.DisplayName
			contact.DisplayName = hints.DisplayName
		}
		if contact.AvatarURL == "" && hints.AvatarURL != "" {
			updates["avatar_url"] = hints.AvatarURL
			contact.AvatarURL = hints.AvatarURL
		}
		if err := tx.Model(&model.Contact{}).
			Where("id = ? AND company_id = ?", contactID, companyID).
			Updates(updates).Error; err != nil {
			return checkConstraintViolation(err)
		}
		contact.LastContactAt = at
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &contact, nil
}
