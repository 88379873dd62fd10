package model

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// RandomJSONB returns a small random JSON object for fixtures.
func RandomJSONB() datatypes.JSON {
	raw, _ := json.Marshal(map[string]interface{}{
		"tone":        gofakeit.RandomString([]string{"friendly", "formal", "concise"}),
		"max_replies": gofakeit.Number(1, 5),
	})
	return datatypes.JSON(raw)
}

// NewUser returns an active AGENT with fake data. Non-zero fields of the
// override replace the defaults.
func NewUser(overrideDefaults ...*User) *User {
	base := &User{
		ID:        uuid.NewString(),
		CompanyID: "company_" + gofakeit.LetterN(8),
		Name:      gofakeit.Name(),
		Email:     gofakeit.Email(),
		Role:      RoleAgent,
		Active:    true,
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt: utils.Now(),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Role != "" {
			base.Role = ovr.Role
		}
		if ovr.DepartmentID != nil {
			base.DepartmentID = ovr.DepartmentID
		}
	}
	return base
}

// NewContact returns a contact with a fake phone number.
func NewContact(overrideDefaults ...*Contact) *Contact {
	base := &Contact{
		ID:            uuid.NewString(),
		CompanyID:     "company_" + gofakeit.LetterN(8),
		DisplayName:   gofakeit.Name(),
		Phone:         "55" + gofakeit.Numerify("11#########"),
		LastContactAt: utils.Now(),
		CreatedAt:     utils.Now().Add(-24 * time.Hour),
		UpdatedAt:     utils.Now(),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.DisplayName != "" {
			base.DisplayName = ovr.DisplayName
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Email != "" {
			base.Email = ovr.Email
		}
	}
	return base
}

// NewConversation returns a PENDING WhatsApp conversation.
func NewConversation(overrideDefaults ...*Conversation) *Conversation {
	base := &Conversation{
		ID:             uuid.NewString(),
		CompanyID:      "company_" + gofakeit.LetterN(8),
		ContactID:      uuid.NewString(),
		Status:         ConversationPending,
		Channels:       datatypes.JSON(`["WHATSAPP"]`),
		LastActivityAt: utils.Now(),
		CreatedAt:      utils.Now().Add(-time.Hour),
		UpdatedAt:      utils.Now(),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.ContactID != "" {
			base.ContactID = ovr.ContactID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		base.Channels = ovr.Channels
		base.DepartmentID = ovr.DepartmentID
	}
	return base
}

// NewMessage returns an inbound text message.
func NewMessage(overrideDefaults ...*Message) *Message {
	base := &Message{
		ID:             uuid.NewString(),
		CompanyID:      "company_" + gofakeit.LetterN(8),
		ConversationID: uuid.NewString(),
		Content:        gofakeit.Sentence(6),
		Type:           MessageTypeText,
		Direction:      DirectionInbound,
		Status:         DeliverySent,
		Channel:        ChannelWhatsApp,
		SentAt:         utils.Now(),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.ConversationID != "" {
			base.ConversationID = ovr.ConversationID
		}
		if ovr.Content != "" {
			base.Content = ovr.Content
		}
		if ovr.Direction != "" {
			base.Direction = ovr.Direction
		}
		if ovr.Channel != "" {
			base.Channel = ovr.Channel
		}
		if !ovr.SentAt.IsZero() {
			base.SentAt = ovr.SentAt
		}
		base.UserID = ovr.UserID
		base.IsBot = ovr.IsBot
	}
	return base
}

// NewChatbot returns an enabled chatbot.
func NewChatbot(overrideDefaults ...*Chatbot) *Chatbot {
	base := &Chatbot{
		ID:           uuid.NewString(),
		CompanyID:    "company_" + gofakeit.LetterN(8),
		Name:         gofakeit.AppName(),
		Enabled:      true,
		Language:     "en",
		SystemPrompt: "You are a helpful support assistant.",
		Config:       RandomJSONB(),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.Language != "" {
			base.Language = ovr.Language
		}
		if ovr.SystemPrompt != "" {
			base.SystemPrompt = ovr.SystemPrompt
		}
	}
	return base
}

// NewCampaign returns a DRAFT campaign with n recipients.
func NewCampaign(n int, overrideDefaults ...*Campaign) *Campaign {
	recipients := make([]Recipient, 0, n)
	for i := 0; i < n; i++ {
		recipients = append(recipients, Recipient{
			Phone: "55" + gofakeit.Numerify("11#########"),
			Name:  gofakeit.FirstName(),
		})
	}
	base := &Campaign{
		ID:         uuid.NewString(),
		CompanyID:  "company_" + gofakeit.LetterN(8),
		Name:       gofakeit.BuzzWord() + " campaign",
		Template:   "Hello {{name}}, " + gofakeit.Sentence(5),
		Channel:    ChannelWhatsApp,
		Recipients: datatypes.NewJSONSlice(recipients),
		Status:     CampaignDraft,
		Results:    datatypes.NewJSONType(CampaignResults{}),
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.Channel != "" {
			base.Channel = ovr.Channel
		}
		base.ScheduledAt = ovr.ScheduledAt
		base.Processed = ovr.Processed
	}
	return base
}
