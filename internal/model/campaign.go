package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignSending   CampaignStatus = "SENDING"
	CampaignSent      CampaignStatus = "SENT"
	CampaignCancelled CampaignStatus = "CANCELLED"
	CampaignFailed    CampaignStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignSent || s == CampaignCancelled || s == CampaignFailed
}

// CanTransitionTo encodes DRAFT->SCHEDULED->SENDING->SENT with cancel and
// failure exits. A draft may be started directly.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	switch s {
	case CampaignDraft:
		return next == CampaignScheduled || next == CampaignSending || next == CampaignCancelled
	case CampaignScheduled:
		return next == CampaignScheduled || next == CampaignSending || next == CampaignCancelled
	case CampaignSending:
		return next == CampaignSent || next == CampaignFailed || next == CampaignCancelled
	}
	return false
}

// Recipient is a denormalized campaign target.
type Recipient struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// RecipientError records one failed send.
type RecipientError struct {
	Phone string `json:"phone"`
	Error string `json:"error"`
}

// CampaignResults aggregates delivery counters for a campaign.
type CampaignResults struct {
	Sent      int              `json:"sent"`
	Delivered int              `json:"delivered"`
	Failed    int              `json:"failed"`
	Errors    []RecipientError `json:"errors,omitempty"`
}

// Campaign is a broadcast of one template to many recipients.
type Campaign struct {
	ID          string                              `json:"id" gorm:"primaryKey;column:id"`
	CompanyID   string                              `json:"company_id" gorm:"column:company_id;index"`
	Name        string                              `json:"name" gorm:"column:name"`
	Template    string                              `json:"template" gorm:"column:template;type:text"`
	Channel     Channel                             `json:"channel" gorm:"column:channel;type:varchar(16)"`
	Recipients  datatypes.JSONSlice[Recipient]      `json:"recipients" gorm:"type:jsonb;column:recipients"`
	Status      CampaignStatus                      `json:"status" gorm:"column:status;type:varchar(16);index"`
	ScheduledAt *time.Time                          `json:"scheduled_at,omitempty" gorm:"column:scheduled_at;index"`
	StartedAt   *time.Time                          `json:"started_at,omitempty" gorm:"column:started_at"`
	CompletedAt *time.Time                          `json:"completed_at,omitempty" gorm:"column:completed_at"`
	Processed   int                                 `json:"processed" gorm:"column:processed"`
	Results     datatypes.JSONType[CampaignResults] `json:"results" gorm:"type:jsonb;column:results"`
	CreatedAt   time.Time                           `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                           `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Campaign) TableName(namer schema.Namer) string {
	return namer.TableName("campaigns")
}

// Render substitutes {{name}} and {{phone}} in the template for r.
func (c *Campaign) Render(r Recipient) string {
	name := r.Name
	if name == "" {
		name = r.Phone
	}
	return strings.NewReplacer("{{name}}", name, "{{phone}}", r.Phone).Replace(c.Template)
}
