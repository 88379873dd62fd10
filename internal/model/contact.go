package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Contact is a person reachable on one or more channels. Channel identities
// live in ContactIdentity rows.
type Contact struct {
	ID            string         `json:"id" gorm:"primaryKey;column:id"`
	CompanyID     string         `json:"company_id" gorm:"column:company_id;index"`
	DisplayName   string         `json:"display_name" gorm:"column:display_name"`
	AvatarURL     string         `json:"avatar_url,omitempty" gorm:"column:avatar_url"`
	Phone         string         `json:"phone,omitempty" gorm:"column:phone;index"`
	Email         string         `json:"email,omitempty" gorm:"column:email;index"`
	Tags          datatypes.JSON `json:"tags,omitempty" gorm:"type:jsonb;column:tags"`
	LastContactAt time.Time      `json:"last_contact_at" gorm:"column:last_contact_at"`
	CreatedAt     time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	Identities []ContactIdentity `json:"identities,omitempty" gorm:"foreignKey:ContactID"`
}

func (Contact) TableName(namer schema.Namer) string {
	return namer.TableName("contacts")
}

// ContactIdentity maps (channel, external id) to exactly one contact.
type ContactIdentity struct {
	ID         string    `json:"id" gorm:"primaryKey;column:id"`
	CompanyID  string    `json:"company_id" gorm:"column:company_id;uniqueIndex:idx_identity_channel_external"`
	Channel    Channel   `json:"channel" gorm:"column:channel;type:varchar(16);uniqueIndex:idx_identity_channel_external"`
	ExternalID string    `json:"external_id" gorm:"column:external_id;uniqueIndex:idx_identity_channel_external"`
	ContactID  string    `json:"contact_id" gorm:"column:contact_id;index"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (ContactIdentity) TableName(namer schema.Namer) string {
	return namer.TableName("contact_identities")
}

// ContactHints carries optional data observed alongside an inbound identity.
type ContactHints struct {
	DisplayName string
	AvatarURL   string
}
