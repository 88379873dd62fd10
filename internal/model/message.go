package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Message is one unit of content exchanged on a conversation.
type Message struct {
	ID             string         `json:"id" gorm:"primaryKey;column:id"`
	CompanyID      string         `json:"company_id" gorm:"column:company_id"`
	ConversationID string         `json:"conversation_id" gorm:"column:conversation_id;index:idx_message_conversation_sent"`
	Content        string         `json:"content" gorm:"column:content;type:text"`
	Type           MessageType    `json:"type" gorm:"column:type;type:varchar(16)"`
	Direction      Direction      `json:"direction" gorm:"column:direction;type:varchar(16)"`
	Status         DeliveryStatus `json:"status" gorm:"column:status;type:varchar(16)"`
	Channel        Channel        `json:"channel" gorm:"column:channel;type:varchar(16)"`
	ExternalID     string         `json:"external_id,omitempty" gorm:"column:external_id;index"`
	MediaRef       string         `json:"media_ref,omitempty" gorm:"column:media_ref"`
	UserID         *string        `json:"user_id,omitempty" gorm:"column:user_id"`
	IsBot          bool           `json:"is_bot" gorm:"column:is_bot"`
	CampaignID     *string        `json:"campaign_id,omitempty" gorm:"column:campaign_id;index"`
	SentAt         time.Time      `json:"sent_at" gorm:"column:sent_at;index:idx_message_conversation_sent"`
	CreatedAt      time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (Message) TableName(namer schema.Namer) string {
	return namer.TableName("messages")
}
