package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

func forward(m *MockHandler) EventHandler {
	return func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		return m.Handle(ctx, eventType, metadata, rawEvent)
	}
}

func TestRouter_Register(t *testing.T) {
	router := NewRouter()
	router.Register(model.V1MessageInbound, forward(new(MockHandler)))
	assert.NotNil(t, router.handlers[model.V1MessageInbound])

	router.RegisterDefault(forward(new(MockHandler)))
	assert.NotNil(t, router.defaultHandler)
}

func TestRouter_Route_StripsCompanySuffix(t *testing.T) {
	router := NewRouter()
	mockHandler := new(MockHandler)
	router.Register(model.V1MessageInbound, forward(mockHandler))

	rawEvent := []byte(`{"channel":"WHATSAPP"}`)
	metadata := &model.MessageMetadata{
		MessageSubject: string(model.V1MessageInbound) + ".acme",
		MessageID:      "msg-123",
		CompanyID:      "acme",
	}
	mockHandler.On("Handle", mock.MatchedBy(func(ctx context.Context) bool {
		companyID, err := tenant.FromContext(ctx)
		return err == nil && companyID == "acme"
	}), model.V1MessageInbound, metadata, rawEvent).Return(nil).Once()

	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	require.NoError(t, router.Route(ctx, metadata, rawEvent))
	mockHandler.AssertExpectations(t)
}

func TestRouter_Route_HandlerError(t *testing.T) {
	router := NewRouter()
	mockHandler := new(MockHandler)
	router.Register(model.V1SessionTake, forward(mockHandler))

	handlerErr := apperrors.NewRetryable(errors.New("db down"), "take failed")
	metadata := &model.MessageMetadata{MessageSubject: string(model.V1SessionTake) + ".acme", CompanyID: "acme"}
	mockHandler.On("Handle", mock.Anything, model.V1SessionTake, metadata, mock.Anything).Return(handlerErr).Once()

	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	err := router.Route(ctx, metadata, []byte(`{}`))

	assert.ErrorIs(t, err, handlerErr)
}

func TestRouter_Route_DefaultHandler(t *testing.T) {
	router := NewRouter()
	defaultHandler := new(MockHandler)
	router.RegisterDefault(forward(defaultHandler))

	metadata := &model.MessageMetadata{MessageSubject: "v9.unknown.thing.acme", CompanyID: "acme"}
	defaultHandler.On("Handle", mock.Anything, model.EventType(""), metadata, mock.Anything).Return(nil).Once()

	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	require.NoError(t, router.Route(ctx, metadata, []byte(`{}`)))
	defaultHandler.AssertExpectations(t)
}

func TestRouter_Route_NoHandlerIsFatal(t *testing.T) {
	router := NewRouter()
	metadata := &model.MessageMetadata{MessageSubject: string(model.V1CampaignStart) + ".acme", CompanyID: "acme"}

	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	err := router.Route(ctx, metadata, []byte(`{}`))

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}
