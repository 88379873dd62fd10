// Package realtime pushes conversation and presence events to connected consoles.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

// Event is one notification before it is wrapped in an envelope.
type Event struct {
	Name           model.RealtimeEvent
	Audience       model.Audience
	ConversationID string
	UserID         string
	Data           interface{}
}

// Notifier emits realtime events for the company in ctx.
type Notifier interface {
	Emit(ctx context.Context, ev Event) error
}

// Publisher is the subset of the JetStream client the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte, headers map[string]string) error
}

// NATSNotifier publishes envelopes to <prefix>.<company>.<event>.
type NATSNotifier struct {
	pub    Publisher
	prefix string
}

var _ Notifier = (*NATSNotifier)(nil)

func NewNATSNotifier(pub Publisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = "realtime"
	}
	return &NATSNotifier{pub: pub, prefix: prefix}
}

func (n *NATSNotifier) Subject(companyID string, ev model.RealtimeEvent) string {
	return fmt.Sprintf("%s.%s.%s", n.prefix, companyID, ev)
}

func (n *NATSNotifier) Emit(ctx context.Context, ev Event) error {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: emit %s: %v", apperrors.ErrBadRequest, ev.Name, err)
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", ev.Name, err)
	}
	audience := ev.Audience
	if audience == "" {
		audience = model.AudienceCompany
	}

	env := model.Envelope{
		Meta: model.EnvelopeMeta{
			ID:             uuid.NewString(),
			Event:          ev.Name,
			CompanyID:      companyID,
			Audience:       audience,
			ConversationID: ev.ConversationID,
			UserID:         ev.UserID,
			EmittedAt:      utils.Now(),
		},
		Data: data,
	}
	subject := n.Subject(companyID, ev.Name)
	if err := n.pub.Publish(subject, utils.MustMarshalJSON(env), map[string]string{"Nats-Msg-Id": env.Meta.ID}); err != nil {
		return fmt.Errorf("%w: %w: publish %s: %v", apperrors.ErrCollaboratorUnavailable, apperrors.ErrNATS, subject, err)
	}
	logger.FromContext(ctx).Debug("[realtime] event emitted",
		zap.String("event", string(ev.Name)),
		zap.String("conversation_id", ev.ConversationID),
		zap.String("user_id", ev.UserID),
	)
	return nil
}

// EmitBestEffort emits ev and logs a failure instead of returning it. Realtime
// delivery never rolls back a committed state change.
func EmitBestEffort(ctx context.Context, n Notifier, ev Event) {
	if n == nil {
		return
	}
	if err := n.Emit(ctx, ev); err != nil {
		logger.FromContext(ctx).Warn("[realtime] emit failed",
			zap.String("event", string(ev.Name)),
			zap.String("conversation_id", ev.ConversationID),
			zap.Error(err),
		)
	}
}
