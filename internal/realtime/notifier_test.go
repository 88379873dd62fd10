package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

type published struct {
	subject string
	data    []byte
	headers map[string]string
}

type fakePublisher struct {
	err  error
	msgs []published
}

func (f *fakePublisher) Publish(subject string, data []byte, headers map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data, headers: headers})
	return nil
}

func TestEmitPublishesEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "")
	ctx := tenant.WithCompanyID(context.Background(), "acme")

	err := n.Emit(ctx, Event{
		Name:           model.EventConversationAssigned,
		Audience:       model.AudienceUser,
		ConversationID: "conv-1",
		UserID:         "agent-7",
		Data:           model.AssignmentNotice{ConversationID: "conv-1", AgentID: "agent-7"},
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "realtime.acme.conversation:assigned", pub.msgs[0].subject)

	var env model.Envelope
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &env))
	assert.Equal(t, model.EventConversationAssigned, env.Meta.Event)
	assert.Equal(t, "acme", env.Meta.CompanyID)
	assert.Equal(t, model.AudienceUser, env.Meta.Audience)
	assert.Equal(t, env.Meta.ID, pub.msgs[0].headers["Nats-Msg-Id"])
	assert.False(t, env.Meta.EmittedAt.IsZero())

	var notice model.AssignmentNotice
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, "agent-7", notice.AgentID)
}

func TestEmitDefaultsToCompanyAudience(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "rt")
	ctx := tenant.WithCompanyID(context.Background(), "acme")

	require.NoError(t, n.Emit(ctx, Event{Name: model.EventUserOnline, Data: model.PresenceNotice{UserID: "u1"}}))

	var env model.Envelope
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &env))
	assert.Equal(t, model.AudienceCompany, env.Meta.Audience)
	assert.Equal(t, "rt.acme.user:online", pub.msgs[0].subject)
}

func TestEmitRequiresCompany(t *testing.T) {
	err := NewNATSNotifier(&fakePublisher{}, "").Emit(context.Background(), Event{Name: model.EventMessageNew})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestEmitPublishFailure(t *testing.T) {
	n := NewNATSNotifier(&fakePublisher{err: errors.New("nats: connection closed")}, "")
	err := n.Emit(tenant.WithCompanyID(context.Background(), "acme"), Event{Name: model.EventMessageNew})
	assert.ErrorIs(t, err, apperrors.ErrNATS)
	assert.ErrorIs(t, err, apperrors.ErrCollaboratorUnavailable)
}

func TestEmitBestEffortLogsFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ctx := logger.WithLogger(tenant.WithCompanyID(context.Background(), "acme"), zap.New(core))

	n := NewNATSNotifier(&fakePublisher{err: errors.New("down")}, "")
	EmitBestEffort(ctx, n, Event{Name: model.EventConversationPending, ConversationID: "conv-9"})
	EmitBestEffort(ctx, nil, Event{Name: model.EventConversationPending})

	entries := logs.FilterMessage("[realtime] emit failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "conv-9", entries[0].ContextMap()["conversation_id"])
}
