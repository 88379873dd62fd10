package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	ingestionmock "gitlab.com/timkado/api/daisi-conversation-router/internal/ingestion/mock"
	jsmock "gitlab.com/timkado/api/daisi-conversation-router/internal/jetstream/mock"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

func createDummyConfig(companyID string) *config.Config {
	var cfg config.Config
	cfg.Company.ID = companyID
	cfg.NATS.DLQSubject = "dlq"
	cfg.NATS.Inbound = config.ConsumerNatsConfig{
		Stream:      "conversation_events_stream",
		Consumer:    "conversation_router",
		QueueGroup:  "conversation_router_group",
		SubjectList: []string{"v1.messages.inbound"},
		MaxDeliver:  5,
	}
	return &cfg
}

func withTestLogger(t *testing.T) {
	original := logger.Log
	logger.Log = zaptest.NewLogger(t).Named(t.Name())
	t.Cleanup(func() { logger.Log = original })
}

func TestNewProcessor(t *testing.T) {
	withTestLogger(t)
	service := &EventService{}
	client := new(jsmock.ClientMock)

	processor := NewProcessor(service, client, createDummyConfig("acme"), "acme")

	require.NotNil(t, processor)
	assert.Same(t, service, processor.service)
	assert.NotNil(t, processor.consumer)
	assert.NotNil(t, processor.eventRouter)
	assert.NotNil(t, processor.conversationHandler)
	assert.NotNil(t, processor.sessionHandler)
	assert.NotNil(t, processor.campaignHandler)
}

func TestProcessor_Setup_RegistersEveryEventType(t *testing.T) {
	withTestLogger(t)
	processor := NewProcessor(&EventService{}, new(jsmock.ClientMock), createDummyConfig("acme"), "acme")

	router := new(ingestionmock.RouterMock)
	consumer := new(ingestionmock.ConsumerMock)
	processor.eventRouter = router
	processor.consumer = consumer

	expected := []model.EventType{
		model.V1MessageInbound, model.V1MessageStatus,
		model.V1ConversationClose, model.V1ConversationTransfer, model.V1ConversationReopen, model.V1ConversationUnassign,
		model.V1SessionConnect, model.V1SessionDisconnect, model.V1SessionJoin,
		model.V1SessionMessage, model.V1SessionTake, model.V1SessionTyping,
		model.V1CampaignStart, model.V1CampaignCancel, model.V1CampaignSchedule,
	}
	for _, eventType := range expected {
		router.On("Register", eventType, mock.Anything).Return().Once()
	}
	router.On("RegisterDefault", mock.Anything).Return().Once()
	consumer.On("Setup").Return(nil).Once()

	require.NoError(t, processor.Setup())
	router.AssertExpectations(t)
	consumer.AssertExpectations(t)
}

func TestProcessor_Setup_ConsumerError(t *testing.T) {
	withTestLogger(t)
	processor := NewProcessor(&EventService{}, new(jsmock.ClientMock), createDummyConfig("acme"), "acme")
	consumer := new(ingestionmock.ConsumerMock)
	processor.consumer = consumer
	consumer.On("Setup").Return(errors.New("stream unavailable")).Once()

	err := processor.Setup()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to setup consumer")
}

func TestProcessor_DefaultHandlerIsFatal(t *testing.T) {
	withTestLogger(t)
	processor := NewProcessor(&EventService{}, new(jsmock.ClientMock), createDummyConfig("acme"), "acme")
	consumer := new(ingestionmock.ConsumerMock)
	processor.consumer = consumer
	consumer.On("Setup").Return(nil)
	require.NoError(t, processor.Setup())

	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	err := processor.GetRouter().Route(ctx, &model.MessageMetadata{MessageSubject: "v2.unknown.acme", CompanyID: "acme"}, []byte(`{}`))

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}

func TestProcessor_StartStop(t *testing.T) {
	withTestLogger(t)
	processor := NewProcessor(&EventService{}, new(jsmock.ClientMock), createDummyConfig("acme"), "acme")
	consumer := new(ingestionmock.ConsumerMock)
	processor.consumer = consumer
	consumer.On("Start").Return(nil).Once()
	consumer.On("Stop").Return().Once()

	require.NoError(t, processor.Start())
	processor.Stop()
	consumer.AssertExpectations(t)
}

func TestProcessor_ConsumerNamesCarryCompany(t *testing.T) {
	withTestLogger(t)
	client := new(jsmock.ClientMock)
	processor := NewProcessor(&EventService{}, client, createDummyConfig("acme"), "acme")

	client.On("SetupStream", mock.Anything, mock.Anything).Return(nil).Once()
	client.On("SetupConsumer", mock.Anything, "conversation_events_stream", mock.MatchedBy(func(cc *nats.ConsumerConfig) bool {
		return cc.Durable == "conversation_router_acme" && cc.DeliverGroup == "conversation_router_group_acme"
	})).Return(nil).Once()

	require.NoError(t, processor.Setup())
	client.AssertExpectations(t)
}
