package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

type ConversationStatus string

const (
	ConversationOpen    ConversationStatus = "OPEN"
	ConversationPending ConversationStatus = "PENDING"
	ConversationClosed  ConversationStatus = "CLOSED"
)

// IsActive reports whether the status counts toward the one-active-conversation rule.
func (s ConversationStatus) IsActive() bool {
	return s == ConversationOpen || s == ConversationPending
}

// CanTransitionTo encodes the conversation lifecycle:
// PENDING->OPEN, OPEN->PENDING, OPEN|PENDING->CLOSED, CLOSED->PENDING.
func (s ConversationStatus) CanTransitionTo(next ConversationStatus) bool {
	switch s {
	case ConversationPending:
		return next == ConversationOpen || next == ConversationClosed || next == ConversationPending
	case ConversationOpen:
		return next == ConversationPending || next == ConversationClosed || next == ConversationOpen
	case ConversationClosed:
		return next == ConversationPending
	}
	return false
}

// Conversation threads one contact's interaction with one company.
type Conversation struct {
	ID             string             `json:"id" gorm:"primaryKey;column:id"`
	CompanyID      string             `json:"company_id" gorm:"column:company_id;index:idx_conversation_contact"`
	ContactID      string             `json:"contact_id" gorm:"column:contact_id;index:idx_conversation_contact"`
	Status         ConversationStatus `json:"status" gorm:"column:status;type:varchar(16);index"`
	Channels       datatypes.JSON     `json:"channels" gorm:"type:jsonb;column:channels"`
	LastActivityAt time.Time          `json:"last_activity_at" gorm:"column:last_activity_at"`
	DepartmentID   *string            `json:"department_id,omitempty" gorm:"column:department_id"`
	Rating         *int               `json:"rating,omitempty" gorm:"column:rating"`
	ClosedAt       *time.Time         `json:"closed_at,omitempty" gorm:"column:closed_at"`
	CreatedAt      time.Time          `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Conversation) TableName(namer schema.Namer) string {
	return namer.TableName("conversations")
}

// ChannelSet decodes the channels column. A malformed column yields nil.
func (c *Conversation) ChannelSet() []Channel {
	var out []Channel
	if len(c.Channels) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Channels, &out); err != nil {
		return nil
	}
	return out
}

// AddChannel appends ch to the channel set. It reports whether the set changed.
func (c *Conversation) AddChannel(ch Channel) bool {
	set := c.ChannelSet()
	for _, existing := range set {
		if existing == ch {
			return false
		}
	}
	set = append(set, ch)
	raw, _ := json.Marshal(set)
	c.Channels = datatypes.JSON(raw)
	return true
}

// ConversationAgent is one time-bounded assignment of an agent to a conversation.
// At most one row per conversation has Active set.
type ConversationAgent struct {
	ID             string     `json:"id" gorm:"primaryKey;column:id"`
	CompanyID      string     `json:"company_id" gorm:"column:company_id"`
	ConversationID string     `json:"conversation_id" gorm:"column:conversation_id;index"`
	AgentID        string     `json:"agent_id" gorm:"column:agent_id;index"`
	Active         bool       `json:"active" gorm:"column:active;index"`
	AssignedAt     time.Time  `json:"assigned_at" gorm:"column:assigned_at"`
	UnassignedAt   *time.Time `json:"unassigned_at,omitempty" gorm:"column:unassigned_at"`
}

func (ConversationAgent) TableName(namer schema.Namer) string {
	return namer.TableName("conversation_agents")
}
