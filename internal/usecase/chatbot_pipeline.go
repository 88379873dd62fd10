package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/ai"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/channel"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/locale"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/observer"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/realtime"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/scheduler"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/storage"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

// EscalateToken is stripped from model replies and hands the conversation to a human.
const EscalateToken = "[ESCALATE]"

const (
	defaultHistoryLimit = 10
	defaultAITimeout    = 15 * time.Second
)

// BotReply is the text the bot will send and whether a human should take over.
type BotReply struct {
	Text           string
	ShouldEscalate bool
	Reason         string
}

// ChatbotPipeline builds the model context, calls the completer and sends the reply.
type ChatbotPipeline struct {
	messageRepo storage.MessageRepo
	completer   ai.Completer
	transport   channel.Transport
	notifier    realtime.Notifier
	catalog     *locale.Catalog
	cfg         config.ChatbotConfig
	clock       scheduler.Clock
}

var _ BotResponder = (*ChatbotPipeline)(nil)

func NewChatbotPipeline(
	messageRepo storage.MessageRepo,
	completer ai.Completer,
	transport channel.Transport,
	notifier realtime.Notifier,
	catalog *locale.Catalog,
	cfg config.ChatbotConfig,
	clock scheduler.Clock,
) *ChatbotPipeline {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = defaultAITimeout
	}
	if len(cfg.EscalationKeywords) == 0 {
		cfg.EscalationKeywords = config.DefaultEscalationKeywords
	}
	if clock == nil {
		clock = scheduler.RealClock{}
	}
	return &ChatbotPipeline{
		messageRepo: messageRepo,
		completer:   completer,
		transport:   transport,
		notifier:    notifier,
		catalog:     catalog,
		cfg:         cfg,
		clock:       clock,
	}
}

// GenerateResponse asks the model for a reply. A model failure is not an
// error: the localized fallback is returned and the conversation escalates.
func (p *ChatbotPipeline) GenerateResponse(ctx context.Context, req RouteRequest, bot *model.Chatbot) (BotReply, error) {
	if req.Message == nil || req.Conversation == nil || bot == nil {
		return BotReply{}, fmt.Errorf("%w: bot reply needs a message, a conversation and a bot", apperrors.ErrValidation)
	}
	log := logger.FromContext(ctx).With(zap.String("conversation_id", req.Conversation.ID))

	// One extra row: the current message is already stored and is dropped below.
	history, err := p.messageRepo.ListRecentMessages(ctx, req.Conversation.ID, p.cfg.HistoryLimit+1)
	if err != nil {
		log.Warn("[chatbot] history unavailable, answering without it", zap.Error(err))
		history = nil
	}
	history = priorTurns(history, req.Message.ID, p.cfg.HistoryLimit)
	system := p.buildPrompt(req, bot, history)

	aiCtx, cancel := context.WithTimeout(ctx, p.cfg.AITimeout)
	defer cancel()
	text, err := p.completer.Complete(aiCtx, system, req.Message.Content)
	if err != nil {
		log.Warn("[chatbot] completion failed, sending fallback", zap.Error(err))
		return p.escalated(ctx, req, BotReply{
			Text:           p.catalog.Text(bot.Language, locale.BotFallback),
			ShouldEscalate: true,
			Reason:         "ai_unavailable",
		}), nil
	}

	reply := BotReply{Text: text}
	if strings.Contains(reply.Text, EscalateToken) {
		reply.Text = strings.TrimSpace(strings.ReplaceAll(reply.Text, EscalateToken, ""))
		reply.ShouldEscalate = true
		reply.Reason = "model"
	}
	if !reply.ShouldEscalate {
		if kw, ok := p.matchKeyword(req.Message.Content, reply.Text); ok {
			log.Debug("[chatbot] escalation keyword matched", zap.String("keyword", kw))
			reply.ShouldEscalate = true
			reply.Reason = "keyword"
		}
	}
	if reply.Text == "" {
		reply.Text = p.catalog.Text(bot.Language, locale.BotHandoff)
	}
	if reply.ShouldEscalate {
		return p.escalated(ctx, req, reply), nil
	}
	return reply, nil
}

func (p *ChatbotPipeline) escalated(ctx context.Context, req RouteRequest, reply BotReply) BotReply {
	observer.IncChatbotEscalation(req.Conversation.CompanyID, reply.Reason)
	logger.FromContext(ctx).Info("[chatbot] escalating",
		zap.String("conversation_id", req.Conversation.ID),
		zap.String("reason", reply.Reason),
	)
	return reply
}

func (p *ChatbotPipeline) matchKeyword(texts ...string) (string, bool) {
	for _, kw := range p.cfg.EscalationKeywords {
		for _, t := range texts {
			if utils.ContainsWord(t, kw) {
				return kw, true
			}
		}
	}
	return "", false
}

func (p *ChatbotPipeline) buildPrompt(req RouteRequest, bot *model.Chatbot, history []model.Message) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(bot.SystemPrompt))
	b.WriteString("\n\n")

	name := ""
	if req.Contact != nil {
		name = req.Contact.DisplayName
	}
	if name != "" {
		fmt.Fprintf(&b, "Customer name: %s\n", name)
	}
	fmt.Fprintf(&b, "Current time: %s\n", p.clock.Now().UTC().Format(time.RFC3339))
	if len(bot.Config) > 0 && string(bot.Config) != "null" {
		fmt.Fprintf(&b, "Bot configuration: %s\n", string(bot.Config))
	}

	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
	}
	for _, m := range history {
		fmt.Fprintf(&b, "[%s] %s\n", speaker(m), m.Content)
	}

	fmt.Fprintf(&b, "\nIf the customer asks for a person or you cannot help, include %s in your reply.", EscalateToken)
	return b.String()
}

func speaker(m model.Message) string {
	switch {
	case m.Direction == model.DirectionInbound:
		return "customer"
	case m.IsBot:
		return "assistant"
	default:
		return "agent"
	}
}

// Handle generates a reply, sends it and records it on the conversation. It
// reports whether a human should take over. A reply the channel refused is
// stored as FAILED and also escalates.
func (p *ChatbotPipeline) Handle(ctx context.Context, req RouteRequest, bot *model.Chatbot) (bool, error) {
	reply, err := p.GenerateResponse(ctx, req, bot)
	if err != nil {
		return false, err
	}
	conv := req.Conversation

	msg := &model.Message{
		ID:             uuid.NewString(),
		CompanyID:      conv.CompanyID,
		ConversationID: conv.ID,
		Content:        reply.Text,
		Type:           model.MessageTypeText,
		Direction:      model.DirectionOutbound,
		Status:         model.DeliverySent,
		Channel:        req.Message.Channel,
		IsBot:          true,
		SentAt:         p.clock.Now(),
	}
	res, sendErr := p.transport.Send(ctx, channel.SendRequest{
		CompanyID: conv.CompanyID,
		Channel:   req.Message.Channel,
		AccountID: req.AccountID,
		Recipient: req.ReplyTo,
		Content:   reply.Text,
	})
	if sendErr != nil {
		logger.FromContext(ctx).Warn("[chatbot] reply not delivered",
			zap.String("conversation_id", conv.ID),
			zap.Error(sendErr),
		)
		msg.Status = model.DeliveryFailed
	} else {
		msg.ExternalID = res.ExternalID
	}

	// The reply is recorded after the send so the row carries the channel's id.
	if err := p.messageRepo.SaveMessage(ctx, msg); err != nil {
		return false, unavailable(err, "save bot message")
	}

	realtime.EmitBestEffort(ctx, p.notifier, realtime.Event{
		Name:           model.EventMessageNew,
		Audience:       model.AudienceConversation,
		ConversationID: conv.ID,
		Data:           msg,
	})

	// An undeliverable reply leaves the customer unanswered.
	return reply.ShouldEscalate || sendErr != nil, nil
}

// priorTurns drops the message being answered and keeps the newest limit others.
func priorTurns(history []model.Message, currentID string, limit int) []model.Message {
	prior := make([]model.Message, 0, len(history))
	for _, m := range history {
		if m.ID != currentID {
			prior = append(prior, m)
		}
	}
	if len(prior) > limit {
		prior = prior[len(prior)-limit:]
	}
	return prior
}
