package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

type fakeWASender struct {
	paired    bool
	connected bool
	sendErr   error
	sent      map[string]string
}

func (f *fakeWASender) IsPaired() bool    { return f.paired }
func (f *fakeWASender) IsConnected() bool { return f.connected }

func (f *fakeWASender) SendText(_ context.Context, to types.JID, text string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	f.sent[to.String()] = text
	return "3EB0" + to.User, nil
}

func TestRecipientJID(t *testing.T) {
	jid, err := recipientJID("+55 (11) 99999-0000")
	require.NoError(t, err)
	assert.Equal(t, "5511999990000@s.whatsapp.net", jid.String())

	jid, err = recipientJID("5511999990000@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "5511999990000", jid.User)

	_, err = recipientJID("not-a-phone")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestWhatsAppSend(t *testing.T) {
	sender := &fakeWASender{paired: true, connected: true}
	tr := newWhatsAppTransport(sender)

	res, err := tr.Send(context.Background(), SendRequest{
		Channel:   model.ChannelWhatsApp,
		Recipient: "5511999990000",
		Content:   "Olá",
		MediaRef:  "https://cdn.example.com/x.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "3EB05511999990000", res.ExternalID)
	assert.Equal(t, "Olá\nhttps://cdn.example.com/x.jpg", sender.sent["5511999990000@s.whatsapp.net"])
}

func TestWhatsAppSendUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		sender *fakeWASender
	}{
		{"not paired", &fakeWASender{paired: false, connected: true}},
		{"disconnected", &fakeWASender{paired: true, connected: false}},
		{"send error", &fakeWASender{paired: true, connected: true, sendErr: errors.New("websocket closed")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newWhatsAppTransport(tt.sender).Send(context.Background(), SendRequest{Recipient: "5511999990000", Content: "x"})
			assert.ErrorIs(t, err, apperrors.ErrCollaboratorUnavailable)
		})
	}
}

func TestZapWALoggerDebugGate(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	quiet := newZapWALogger(zap.New(core), "whatsapp", "warn")
	quiet.Debugf("hidden %d", 1)
	quiet.Sub("Client").Warnf("shown %s", "warn")

	loud := newZapWALogger(zap.New(core), "whatsapp", "debug")
	loud.Debugf("visible %d", 2)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "shown warn", entries[0].Message)
	assert.Equal(t, "whatsapp.Client", entries[0].LoggerName)
	assert.Equal(t, "visible 2", entries[1].Message)
}
