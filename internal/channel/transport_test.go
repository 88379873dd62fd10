package channel_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sfreiberg/gotwilio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/channel"
	channelmock "gitlab.com/timkado/api/daisi-conversation-router/internal/channel/mock"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/scheduler"
)

var epoch = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func whatsappReq(account string) channel.SendRequest {
	return channel.SendRequest{
		CompanyID: "acme",
		Channel:   model.ChannelWhatsApp,
		AccountID: account,
		Recipient: "5511999990000",
		Content:   "hello",
	}
}

func TestRegistryDispatchesByChannel(t *testing.T) {
	wa := new(channelmock.TransportMock)
	sms := new(channelmock.TransportMock)
	reg := channel.NewRegistry()
	reg.Register(model.ChannelWhatsApp, wa)
	reg.Register(model.ChannelSMS, sms)

	req := whatsappReq("acc-1")
	wa.On("Send", mock.Anything, req).Return(channel.SendResult{ExternalID: "wamid-1"}, nil).Once()

	res, err := reg.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "wamid-1", res.ExternalID)
	assert.True(t, reg.Supports(model.ChannelSMS))
	assert.False(t, reg.Supports(model.ChannelTelegram))

	wa.AssertExpectations(t)
	sms.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestRegistryUnsupportedChannel(t *testing.T) {
	reg := channel.NewRegistry()
	_, err := reg.Send(context.Background(), whatsappReq("acc-1"))
	assert.ErrorIs(t, err, apperrors.ErrCollaboratorUnavailable)
}

func TestRegistryRequiresRecipient(t *testing.T) {
	wa := new(channelmock.TransportMock)
	reg := channel.NewRegistry()
	reg.Register(model.ChannelWhatsApp, wa)

	req := whatsappReq("acc-1")
	req.Recipient = ""
	_, err := reg.Send(context.Background(), req)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	wa.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestRegistryPropagatesTransportError(t *testing.T) {
	wa := new(channelmock.TransportMock)
	reg := channel.NewRegistry()
	reg.Register(model.ChannelWhatsApp, wa)
	wa.On("Send", mock.Anything, mock.Anything).Return(channel.SendResult{}, apperrors.ErrRateLimited)

	_, err := reg.Send(context.Background(), whatsappReq("acc-1"))
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
}

func TestRateLimitedWaitsForToken(t *testing.T) {
	clock := scheduler.NewFakeClock(epoch)
	clock.SetAutoAdvance(true)
	next := new(channelmock.TransportMock)
	next.On("Send", mock.Anything, mock.Anything).Return(channel.SendResult{ExternalID: "x"}, nil)

	rl := channel.NewRateLimited(next, config.RateLimitConfig{PerSecond: 1, Burst: 2, MaxWait: 5 * time.Second}, clock)
	for i := 0; i < 3; i++ {
		_, err := rl.Send(context.Background(), whatsappReq("acc-1"))
		require.NoError(t, err)
	}

	assert.Equal(t, []time.Duration{time.Second}, clock.Sleeps(), "third send waits for one refill")
	next.AssertNumberOfCalls(t, "Send", 3)
}

func TestRateLimitedRejectsBeyondMaxWait(t *testing.T) {
	clock := scheduler.NewFakeClock(epoch)
	next := new(channelmock.TransportMock)
	next.On("Send", mock.Anything, mock.Anything).Return(channel.SendResult{}, nil)

	rl := channel.NewRateLimited(next, config.RateLimitConfig{PerSecond: 1, Burst: 1, MaxWait: 500 * time.Millisecond}, clock)

	_, err := rl.Send(context.Background(), whatsappReq("acc-1"))
	require.NoError(t, err)

	_, err = rl.Send(context.Background(), whatsappReq("acc-1"))
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)

	_, err = rl.Send(context.Background(), whatsappReq("acc-2"))
	assert.NoError(t, err, "accounts have independent buckets")

	clock.Advance(time.Second)
	_, err = rl.Send(context.Background(), whatsappReq("acc-1"))
	assert.NoError(t, err, "rejected reservation returns its token")

	assert.Empty(t, clock.Sleeps())
	next.AssertNumberOfCalls(t, "Send", 3)
}

func TestNATSTransportPublishesEnvelope(t *testing.T) {
	pub := new(channelmock.PublisherMock)
	tr := channel.NewNATSTransport(pub, "outbound")

	var published model.OutboundEnvelope
	var msgID string
	pub.On("Publish", "outbound.acme.instagram", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			require.NoError(t, json.Unmarshal(args.Get(1).([]byte), &published))
			msgID = args.Get(2).(map[string]string)["Nats-Msg-Id"]
		}).
		Return(nil).Once()

	res, err := tr.Send(context.Background(), channel.SendRequest{
		CompanyID: "acme",
		Channel:   model.ChannelInstagram,
		Recipient: "ana.handle",
		Content:   "hi there",
	})
	require.NoError(t, err)

	assert.Equal(t, published.ID, res.ExternalID)
	assert.Equal(t, published.ID, msgID)
	assert.Equal(t, "ana.handle", published.Recipient)
	assert.Equal(t, model.ChannelInstagram, published.Channel)
	pub.AssertExpectations(t)
}

func TestNATSTransportPublishFailure(t *testing.T) {
	pub := new(channelmock.PublisherMock)
	tr := channel.NewNATSTransport(pub, "")
	pub.On("Publish", "outbound.acme.telegram", mock.Anything, mock.Anything).Return(errors.New("no responders"))

	_, err := tr.Send(context.Background(), channel.SendRequest{CompanyID: "acme", Channel: model.ChannelTelegram, Recipient: "42"})
	assert.ErrorIs(t, err, apperrors.ErrCollaboratorUnavailable)
	assert.ErrorIs(t, err, apperrors.ErrNATS)
}

func TestNATSTransportRequiresCompany(t *testing.T) {
	tr := channel.NewNATSTransport(new(channelmock.PublisherMock), "outbound")
	_, err := tr.Send(context.Background(), channel.SendRequest{Channel: model.ChannelEmail, Recipient: "a@b.c"})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestSMSTransport(t *testing.T) {
	cfg := config.TwilioConfig{From: "+15550001111", StatusCallback: "https://cb.example.com/sms"}

	tests := []struct {
		name    string
		resp    *gotwilio.SmsResponse
		exc     *gotwilio.Exception
		err     error
		wantErr error
		wantSID string
	}{
		{name: "sent", resp: &gotwilio.SmsResponse{Sid: "SM123"}, wantSID: "SM123"},
		{name: "throttled", exc: &gotwilio.Exception{Status: http.StatusTooManyRequests, Message: "Too many requests"}, wantErr: apperrors.ErrRateLimited},
		{name: "bad number", exc: &gotwilio.Exception{Status: http.StatusBadRequest, Message: "invalid To"}, wantErr: apperrors.ErrValidation},
		{name: "twilio down", exc: &gotwilio.Exception{Status: http.StatusServiceUnavailable, Message: "unavailable"}, wantErr: apperrors.ErrCollaboratorUnavailable},
		{name: "transport error", err: errors.New("dial tcp: timeout"), wantErr: apperrors.ErrCollaboratorUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(channelmock.TwilioClientMock)
			client.On("SendSMS", "+15550001111", "+15552223333", "your code", cfg.StatusCallback, "").
				Return(tt.resp, tt.exc, tt.err).Once()

			tr := channel.NewSMSTransport(client, cfg)
			res, err := tr.Send(context.Background(), channel.SendRequest{
				CompanyID: "acme",
				Channel:   model.ChannelSMS,
				Recipient: "+15552223333",
				Content:   "your code",
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantSID, res.ExternalID)
			}
			client.AssertExpectations(t)
		})
	}
}

func TestSMSTransportAccountOverridesFrom(t *testing.T) {
	client := new(channelmock.TwilioClientMock)
	client.On("SendSMS", "+15559998888", "+15552223333", "hi\nhttps://cdn.example.com/a.png", "", "").
		Return(&gotwilio.SmsResponse{Sid: "SM9"}, nil, nil).Once()

	tr := channel.NewSMSTransport(client, config.TwilioConfig{From: "+15550001111"})
	_, err := tr.Send(context.Background(), channel.SendRequest{
		CompanyID: "acme",
		Channel:   model.ChannelSMS,
		AccountID: "+15559998888",
		Recipient: "+15552223333",
		Content:   "hi",
		MediaRef:  "https://cdn.example.com/a.png",
	})
	require.NoError(t, err)
	client.AssertExpectations(t)
}
