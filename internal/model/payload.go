package model

import (
	"encoding/json"
	"time"
)

// InboundMessagePayload is a normalized message received by a channel gateway.
type InboundMessagePayload struct {
	Channel    Channel           `json:"channel" validate:"required,oneof=WHATSAPP INSTAGRAM TELEGRAM FACEBOOK SMS EMAIL WEBCHAT"`
	ExternalID string            `json:"external_id" validate:"required"`
	SenderName string            `json:"sender_name,omitempty"`
	AvatarURL  string            `json:"avatar_url,omitempty" validate:"omitempty,url"`
	Content    string            `json:"content" validate:"required_without=MediaRef"`
	Type       MessageType       `json:"type" validate:"omitempty,oneof=TEXT IMAGE AUDIO VIDEO DOCUMENT"`
	MediaRef   string            `json:"media_ref,omitempty"`
	MessageID  string            `json:"message_id,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MessageStatusPayload reports a delivery receipt from a channel.
type MessageStatusPayload struct {
	MessageID string         `json:"message_id" validate:"required"`
	Status    DeliveryStatus `json:"status" validate:"required,oneof=DELIVERED FAILED"`
}

type SessionConnectPayload struct {
	AgentID      string `json:"agent_id" validate:"required"`
	ConnectionID string `json:"connection_id" validate:"required"`
}

type SessionDisconnectPayload struct {
	ConnectionID string `json:"connection_id" validate:"required"`
}

// SessionConversationPayload covers conversation:join and conversation:take.
type SessionConversationPayload struct {
	AgentID        string `json:"agent_id" validate:"required"`
	ConversationID string `json:"conversation_id" validate:"required"`
}

// SessionMessagePayload is an agent reply typed into the console.
type SessionMessagePayload struct {
	AgentID        string      `json:"agent_id" validate:"required"`
	ConversationID string      `json:"conversation_id" validate:"required"`
	Content        string      `json:"content" validate:"required_without=MediaRef"`
	Type           MessageType `json:"type" validate:"omitempty,oneof=TEXT IMAGE AUDIO VIDEO DOCUMENT"`
	MediaRef       string      `json:"media_ref,omitempty"`
}

type SessionTypingPayload struct {
	AgentID        string `json:"agent_id" validate:"required"`
	ConversationID string `json:"conversation_id" validate:"required"`
	Typing         bool   `json:"typing"`
}

type CloseConversationPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	Rating         *int   `json:"rating,omitempty" validate:"omitempty,min=1,max=5"`
}

type TransferConversationPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	DepartmentID   string `json:"department_id" validate:"required"`
}

type ReopenConversationPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

type UnassignConversationPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	AgentID        string `json:"agent_id" validate:"required"`
}

type CampaignCommandPayload struct {
	CampaignID  string     `json:"campaign_id" validate:"required"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// DLQPayload is what the consumer publishes when an event cannot be processed.
type DLQPayload struct {
	SourceSubject   string          `json:"source_subject"`
	Company         string          `json:"company"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	Error           string          `json:"error"`
	ErrorType       string          `json:"error_type"` // fatal, retryable or unknown
	RetryCount      uint64          `json:"retry_count"`
	MaxRetry        int             `json:"max_retry"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"`
	Timestamp       time.Time       `json:"ts"`
}
