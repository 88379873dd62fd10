package model

// Channel is one external messaging surface.
type Channel string

const (
	ChannelWhatsApp  Channel = "WHATSAPP"
	ChannelInstagram Channel = "INSTAGRAM"
	ChannelTelegram  Channel = "TELEGRAM"
	ChannelFacebook  Channel = "FACEBOOK"
	ChannelSMS       Channel = "SMS"
	ChannelEmail     Channel = "EMAIL"
	ChannelWebChat   Channel = "WEBCHAT"
)

// AllChannels lists every supported channel.
var AllChannels = []Channel{
	ChannelWhatsApp, ChannelInstagram, ChannelTelegram, ChannelFacebook,
	ChannelSMS, ChannelEmail, ChannelWebChat,
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	for _, known := range AllChannels {
		if c == known {
			return true
		}
	}
	return false
}

// IsPhoneAddressed reports whether external ids on c are phone numbers.
func (c Channel) IsPhoneAddressed() bool {
	return c == ChannelWhatsApp || c == ChannelSMS
}

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageTypeText     MessageType = "TEXT"
	MessageTypeImage    MessageType = "IMAGE"
	MessageTypeAudio    MessageType = "AUDIO"
	MessageTypeVideo    MessageType = "VIDEO"
	MessageTypeDocument MessageType = "DOCUMENT"
)

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// DeliveryStatus settles once: SENT may move to DELIVERED or FAILED.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// CanTransitionTo reports whether the delivery status may move from s to next.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	return s == DeliverySent && (next == DeliveryDelivered || next == DeliveryFailed)
}
