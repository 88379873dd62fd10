package channel

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

// waSender is the part of a whatsmeow client the transport needs.
type waSender interface {
	IsPaired() bool
	IsConnected() bool
	SendText(ctx context.Context, to types.JID, text string) (string, error)
}

// whatsmeowSender adapts *whatsmeow.Client to waSender.
type whatsmeowSender struct {
	client *whatsmeow.Client
}

func (s *whatsmeowSender) IsPaired() bool {
	return s.client.Store != nil && s.client.Store.ID != nil
}

func (s *whatsmeowSender) IsConnected() bool {
	return s.client.IsConnected()
}

func (s *whatsmeowSender) SendText(ctx context.Context, to types.JID, text string) (string, error) {
	resp, err := s.client.SendMessage(ctx, to, &waProto.Message{Conversation: &text})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

// WhatsAppTransport sends text through an already paired whatsmeow device.
type WhatsAppTransport struct {
	sender waSender
	close  func()
}

var _ Transport = (*WhatsAppTransport)(nil)

// OpenWhatsApp loads the first device from the sqlite store and connects it.
// An unpaired store still yields a transport; every send then fails as unavailable.
func OpenWhatsApp(ctx context.Context, cfg config.WhatsAppConfig, log *zap.Logger) (*WhatsAppTransport, error) {
	base := newZapWALogger(log, "whatsapp", cfg.LogLevel)
	container, err := sqlstore.New(ctx, "sqlite3", cfg.StoreDSN, base.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("open whatsapp device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(device, base.Sub("Client"))
	sender := &whatsmeowSender{client: client}
	if sender.IsPaired() {
		if err := client.Connect(); err != nil {
			return nil, fmt.Errorf("connect whatsapp: %w", err)
		}
		log.Info("[whatsapp] connected", zap.String("jid", device.ID.String()))
	} else {
		log.Warn("[whatsapp] device store has no paired device, sends will fail")
	}

	return &WhatsAppTransport{
		sender: sender,
		close:  client.Disconnect,
	}, nil
}

func newWhatsAppTransport(sender waSender) *WhatsAppTransport {
	return &WhatsAppTransport{sender: sender, close: func() {}}
}

func (t *WhatsAppTransport) Close() {
	if t.close != nil {
		t.close()
	}
}

// recipientJID accepts either a full JID or a phone number in any format.
func recipientJID(recipient string) (types.JID, error) {
	if strings.Contains(recipient, "@") {
		jid, err := types.ParseJID(recipient)
		if err != nil {
			return types.JID{}, fmt.Errorf("%w: parse jid %q: %v", apperrors.ErrValidation, recipient, err)
		}
		return jid, nil
	}
	digits := utils.Digits(recipient)
	if digits == "" {
		return types.JID{}, fmt.Errorf("%w: recipient %q has no digits", apperrors.ErrValidation, recipient)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

func (t *WhatsAppTransport) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if !t.sender.IsPaired() || !t.sender.IsConnected() {
		return SendResult{}, fmt.Errorf("%w: whatsapp device not connected", apperrors.ErrCollaboratorUnavailable)
	}
	jid, err := recipientJID(req.Recipient)
	if err != nil {
		return SendResult{}, err
	}

	text := req.Content
	if req.MediaRef != "" {
		text = strings.TrimSpace(text + "\n" + req.MediaRef)
	}
	id, err := t.sender.SendText(ctx, jid, text)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: whatsapp send to %s: %v", apperrors.ErrCollaboratorUnavailable, jid.User, err)
	}
	logger.FromContext(ctx).Debug("[whatsapp] message sent", zap.String("to", jid.User), zap.String("external_id", id))
	return SendResult{ExternalID: id}, nil
}

// zapWALogger routes whatsmeow logs into zap.
type zapWALogger struct {
	sugar *zap.SugaredLogger
	debug bool
}

var _ waLog.Logger = (*zapWALogger)(nil)

func newZapWALogger(log *zap.Logger, module, level string) *zapWALogger {
	return &zapWALogger{
		sugar: log.Named(module).Sugar(),
		debug: strings.EqualFold(level, "debug"),
	}
}

func (l *zapWALogger) Warnf(msg string, args ...interface{})  { l.sugar.Warnf(msg, args...) }
func (l *zapWALogger) Errorf(msg string, args ...interface{}) { l.sugar.Errorf(msg, args...) }
func (l *zapWALogger) Infof(msg string, args ...interface{})  { l.sugar.Infof(msg, args...) }

func (l *zapWALogger) Debugf(msg string, args ...interface{}) {
	if l.debug {
		l.sugar.Debugf(msg, args...)
	}
}

func (l *zapWALogger) Sub(module string) waLog.Logger {
	return &zapWALogger{sugar: l.sugar.Named(module), debug: l.debug}
}
