package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

// Publisher is the subset of the JetStream client used to hand messages to gateways.
type Publisher interface {
	Publish(subject string, data []byte, headers map[string]string) error
}

// NATSTransport publishes an OutboundEnvelope to <prefix>.<company>.<channel>
// for channel gateways that live outside this process.
type NATSTransport struct {
	pub    Publisher
	prefix string
}

var _ Transport = (*NATSTransport)(nil)

func NewNATSTransport(pub Publisher, prefix string) *NATSTransport {
	if prefix == "" {
		prefix = "outbound"
	}
	return &NATSTransport{pub: pub, prefix: prefix}
}

// Subject returns the gateway subject for a company and channel.
func (t *NATSTransport) Subject(companyID string, ch model.Channel) string {
	return fmt.Sprintf("%s.%s.%s", t.prefix, companyID, strings.ToLower(string(ch)))
}

func (t *NATSTransport) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.CompanyID == "" {
		return SendResult{}, fmt.Errorf("%w: company is required for outbound publish", apperrors.ErrBadRequest)
	}
	env := model.OutboundEnvelope{
		ID:        uuid.NewString(),
		CompanyID: req.CompanyID,
		Channel:   req.Channel,
		AccountID: req.AccountID,
		Recipient: req.Recipient,
		Content:   req.Content,
		MediaRef:  req.MediaRef,
		CreatedAt: utils.Now(),
	}
	subject := t.Subject(req.CompanyID, req.Channel)
	headers := map[string]string{"Nats-Msg-Id": env.ID}
	if err := t.pub.Publish(subject, utils.MustMarshalJSON(env), headers); err != nil {
		return SendResult{}, fmt.Errorf("%w: %w: publish %s: %v", apperrors.ErrCollaboratorUnavailable, apperrors.ErrNATS, subject, err)
	}
	logger.FromContext(ctx).Debug("[channel] outbound envelope published",
		zap.String("subject", subject),
		zap.String("envelope_id", env.ID),
	)
	return SendResult{ExternalID: env.ID}, nil
}
