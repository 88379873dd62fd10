package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Chatbot is a company's bot configuration. Config is handed to the
// completion service verbatim.
type Chatbot struct {
	ID           string         `json:"id" gorm:"primaryKey;column:id"`
	CompanyID    string         `json:"company_id" gorm:"column:company_id;index"`
	Name         string         `json:"name" gorm:"column:name"`
	Enabled      bool           `json:"enabled" gorm:"column:enabled;index"`
	Language     string         `json:"language" gorm:"column:language"`
	SystemPrompt string         `json:"system_prompt" gorm:"column:system_prompt;type:text"`
	Config       datatypes.JSON `json:"config,omitempty" gorm:"type:jsonb;column:config"`
	CreatedAt    time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Chatbot) TableName(namer schema.Namer) string {
	return namer.TableName("chatbots")
}

// ChannelAccount is a company's connected sending identity on one channel.
type ChannelAccount struct {
	ID              string    `json:"id" gorm:"primaryKey;column:id"`
	CompanyID       string    `json:"company_id" gorm:"column:company_id;index"`
	Channel         Channel   `json:"channel" gorm:"column:channel;type:varchar(16)"`
	ExternalAccount string    `json:"external_account" gorm:"column:external_account"`
	Connected       bool      `json:"connected" gorm:"column:connected"`
	CreatedAt       time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (ChannelAccount) TableName(namer schema.Namer) string {
	return namer.TableName("channel_accounts")
}
