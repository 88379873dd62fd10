package model

import (
	"encoding/json"
	"time"
)

// RealtimeEvent names an event pushed to connected consoles.
type RealtimeEvent string

const (
	EventMessageNew           RealtimeEvent = "message:new"
	EventConversationAssigned RealtimeEvent = "conversation:assigned"
	EventConversationPending  RealtimeEvent = "conversation:pending"
	EventConversationClosed   RealtimeEvent = "conversation:closed"
	EventCampaignProgress     RealtimeEvent = "campaign:progress"
	EventCampaignCompleted    RealtimeEvent = "campaign:completed"
	EventUserOnline           RealtimeEvent = "user:online"
	EventUserOffline          RealtimeEvent = "user:offline"
	EventTypingStart          RealtimeEvent = "typing:start"
	EventTypingStop           RealtimeEvent = "typing:stop"
)

// Audience scopes who receives a realtime event.
type Audience string

const (
	AudienceCompany      Audience = "company"
	AudienceConversation Audience = "conversation"
	AudienceUser         Audience = "user"
)

// EnvelopeMeta describes one realtime event.
type EnvelopeMeta struct {
	ID             string        `json:"id"`
	Event          RealtimeEvent `json:"event"`
	CompanyID      string        `json:"company_id"`
	Audience       Audience      `json:"audience"`
	ConversationID string        `json:"conversation_id,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	EmittedAt      time.Time     `json:"emitted_at"`
}

// Envelope wraps an event body for the realtime bus.
type Envelope struct {
	Meta EnvelopeMeta    `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// CampaignProgress is the body of campaign:progress and campaign:completed.
type CampaignProgress struct {
	CampaignID string         `json:"campaign_id"`
	Status     CampaignStatus `json:"status"`
	Processed  int            `json:"processed"`
	Total      int            `json:"total"`
	Sent       int            `json:"sent"`
	Failed     int            `json:"failed"`
	Batch      int            `json:"batch"`
}

// AssignmentNotice is the body of conversation:assigned.
type AssignmentNotice struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
}

// PresenceNotice is the body of user:online and user:offline.
type PresenceNotice struct {
	UserID string `json:"user_id"`
}

// TypingNotice is the body of typing:start and typing:stop.
type TypingNotice struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// OutboundEnvelope is handed to channel gateways that have no native SDK here.
type OutboundEnvelope struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Channel   Channel   `json:"channel"`
	AccountID string    `json:"account_id,omitempty"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	MediaRef  string    `json:"media_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
