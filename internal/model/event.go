package model

import (
	"strings"
	"time"
)

// EventType is the versioned subject prefix of an inbound event. Subjects on the
// wire carry a trailing company segment, e.g. "v1.messages.inbound.acme".
type EventType string

const (
	V1MessageInbound EventType = "v1.messages.inbound"
	V1MessageStatus  EventType = "v1.messages.status"

	V1SessionConnect    EventType = "v1.session.connect"
	V1SessionDisconnect EventType = "v1.session.disconnect"
	V1SessionJoin       EventType = "v1.session.join"
	V1SessionMessage    EventType = "v1.session.message"
	V1SessionTake       EventType = "v1.session.take"
	V1SessionTyping     EventType = "v1.session.typing"

	V1ConversationClose    EventType = "v1.conversation.close"
	V1ConversationTransfer EventType = "v1.conversation.transfer"
	V1ConversationReopen   EventType = "v1.conversation.reopen"
	V1ConversationUnassign EventType = "v1.conversation.unassign"

	V1CampaignStart    EventType = "v1.campaign.start"
	V1CampaignCancel   EventType = "v1.campaign.cancel"
	V1CampaignSchedule EventType = "v1.campaign.schedule"
)

var knownEventTypes = map[EventType]struct{}{
	V1MessageInbound:       {},
	V1MessageStatus:        {},
	V1SessionConnect:       {},
	V1SessionDisconnect:    {},
	V1SessionJoin:          {},
	V1SessionMessage:       {},
	V1SessionTake:          {},
	V1SessionTyping:        {},
	V1ConversationClose:    {},
	V1ConversationTransfer: {},
	V1ConversationReopen:   {},
	V1ConversationUnassign: {},
	V1CampaignStart:        {},
	V1CampaignCancel:       {},
	V1CampaignSchedule:     {},
}

// MapToBaseEventType resolves a subject to its EventType, stripping the
// trailing company segment when present.
func MapToBaseEventType(subject string) (EventType, bool) {
	if _, ok := knownEventTypes[EventType(subject)]; ok {
		return EventType(subject), true
	}
	lastDot := strings.LastIndex(subject, ".")
	if lastDot <= 0 {
		return "", false
	}
	base := EventType(subject[:lastDot])
	if _, ok := knownEventTypes[base]; ok {
		return base, true
	}
	return "", false
}

// MessageMetadata is the JetStream delivery context of one event.
type MessageMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	MessageID        string
	MessageSubject   string
	CompanyID        string
}
