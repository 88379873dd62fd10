package channel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sfreiberg/gotwilio"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// TwilioClient is the part of gotwilio used for SMS.
type TwilioClient interface {
	SendSMS(from, to, body, statusCallback, applicationSid string) (*gotwilio.SmsResponse, *gotwilio.Exception, error)
}

// SMSTransport sends text messages through Twilio.
type SMSTransport struct {
	client         TwilioClient
	from           string
	statusCallback string
}

var _ Transport = (*SMSTransport)(nil)

func NewSMSTransport(client TwilioClient, cfg config.TwilioConfig) *SMSTransport {
	return &SMSTransport{
		client:         client,
		from:           cfg.From,
		statusCallback: cfg.StatusCallback,
	}
}

// NewTwilioClient builds the real Twilio REST client.
func NewTwilioClient(cfg config.TwilioConfig) TwilioClient {
	return gotwilio.NewTwilioClient(cfg.AccountSID, cfg.AuthToken)
}

func (t *SMSTransport) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	from := t.from
	if req.AccountID != "" {
		from = req.AccountID
	}
	body := req.Content
	if req.MediaRef != "" {
		body = body + "\n" + req.MediaRef
	}

	resp, exc, err := t.client.SendSMS(from, req.Recipient, body, t.statusCallback, "")
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: twilio request: %v", apperrors.ErrCollaboratorUnavailable, err)
	}
	if exc != nil {
		if exc.Status == http.StatusTooManyRequests {
			return SendResult{}, fmt.Errorf("%w: twilio: %s", apperrors.ErrRateLimited, exc.Message)
		}
		if exc.Status >= 400 && exc.Status < 500 {
			return SendResult{}, fmt.Errorf("%w: twilio rejected %s: %s (code %v)", apperrors.ErrValidation, req.Recipient, exc.Message, exc.Code)
		}
		return SendResult{}, fmt.Errorf("%w: twilio: %s (code %v)", apperrors.ErrCollaboratorUnavailable, exc.Message, exc.Code)
	}

	var sid string
	if resp != nil {
		sid = resp.Sid
	}
	logger.FromContext(ctx).Debug("[sms] message sent", zap.String("sid", sid))
	return SendResult{ExternalID: sid}, nil
}
