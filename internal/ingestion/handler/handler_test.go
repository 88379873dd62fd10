package handler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/ingestion/handler"
	mockhandler "gitlab.com/timkado/api/daisi-conversation-router/internal/ingestion/handler/mock"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

func setupHandlerTest(t *testing.T) (context.Context, *model.MessageMetadata) {
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	metadata := &model.MessageMetadata{
		MessageID: "nats-msg-1",
		CompanyID: "test-company",
		Timestamp: time.Now(),
		Stream:    "test-stream",
		Consumer:  "test-consumer",
	}
	return ctx, metadata
}

func TestConversationHandler_HandleEvent_Routing(t *testing.T) {
	ctx, metadata := setupHandlerTest(t)

	testCases := []struct {
		name       string
		eventType  model.EventType
		payload    []byte
		expectCall string
	}{
		{"inbound message", model.V1MessageInbound, []byte(`{"channel":"WHATSAPP","external_id":"5511999990000@s.whatsapp.net","content":"oi"}`), "ProcessInboundMessage"},
		{"message status", model.V1MessageStatus, []byte(`{"message_id":"wamid.1","status":"DELIVERED"}`), "UpdateMessageStatus"},
		{"close", model.V1ConversationClose, []byte(`{"conversation_id":"conv-1","rating":5}`), "CloseConversation"},
		{"transfer", model.V1ConversationTransfer, []byte(`{"conversation_id":"conv-1","department_id":"sales"}`), "TransferConversation"},
		{"reopen", model.V1ConversationReopen, []byte(`{"conversation_id":"conv-1"}`), "ReopenConversation"},
		{"unassign", model.V1ConversationUnassign, []byte(`{"conversation_id":"conv-1","agent_id":"agent-7"}`), "UnassignConversation"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mockhandler.MockConversationService)
			svc.On(tc.expectCall, mock.Anything, mock.Anything).Return(nil).Once()

			h := handler.NewConversationHandler(svc)
			err := h.HandleEvent(ctx, tc.eventType, metadata, tc.payload)

			require.NoError(t, err)
			svc.AssertExpectations(t)
		})
	}
}

func TestConversationHandler_DecodesPayload(t *testing.T) {
	ctx, metadata := setupHandlerTest(t)
	svc := new(mockhandler.MockConversationService)
	rating := 4
	svc.On("CloseConversation", mock.Anything, model.CloseConversationPayload{ConversationID: "conv-9", Rating: &rating}).Return(nil).Once()

	h := handler.NewConversationHandler(svc)
	err := h.HandleEvent(ctx, model.V1ConversationClose, metadata, []byte(`{"conversation_id":"conv-9","rating":4}`))

	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestConversationHandler_InvalidJSONIsFatal(t *testing.T) {
	ctx, metadata := setupHandlerTest(t)
	svc := new(mockhandler.MockConversationService)

	h := handler.NewConversationHandler(svc)
	err := h.HandleEvent(ctx, model.V1MessageInbound, metadata, []byte(`{"channel":`))

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	svc.AssertNotCalled(t, "ProcessInboundMessage", mock.Anything, mock.Anything)
}

func TestConversationHandler_UnsupportedEventType(t *testing.T) {
	ctx, metadata := setupHandlerTest(t)
	h := handler.NewConversationHandler(new(mockhandler.MockConversationService))

	err := h.HandleEvent(ctx, model.V1SessionConnect, metadata, []byte(`{}`))

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}

func TestConversationHandler_PropagatesServiceError(t *testing.T) {
	ctx, metadata := setupHandlerTest(t)
	svc := new(mockhandler.MockConversationService)
	retryErr := apperrors.NewRetryable(errors.New("db down"), "save failed")
	svc.On("ProcessInboundMessage", mock.Anything, mock.Anything).Return(retryErr).Once()

	h := handler.NewConversationHandler(svc)
	err := h.HandleEvent(ctx, model.V1MessageInbound, metadata, []byte(`{"channel":"SMS","external_id":"+5511999990000","content":"hi"}`))

	assert.ErrorIs(t, err, retryErr)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestSessionHandler_HandleEvent_Routing(t *testing.T) {
	ctx, metadata := setupHandlerTest(t)

	testCases := []struct {
		name       string
		eventType  model.EventType
		payload    []byte
		expectCall string
	}{
		{"connect", model.V1SessionConnect, []byte(`{"agent_id":"u1","connection_id":"c1"}`), "ConnectAgent"},
		{"disconnect", model.V1SessionDisconnect, []byte(`{"connection_id":"c1"}`), "DisconnectAgent"},
		{"join", model.V1SessionJoin, []byte(`{"agent_id":"u1","conversation_id":"conv-1"}`), "JoinConversation"},
		{"message", model.V1SessionMessage, []byte(`{"agent_id":"u1","conversation_id":"conv-1","content":"hello"}`), "SendAgentMessage"},
		{"take", model.V1SessionTake, []byte(`{"agent_id":"u1","conversation_id":"conv-1"}`), "TakeConversation"},
		{"typing", model.V1SessionTyping, []byte(`{"agent_id":"u1","conversation_id":"conv-1","typing":true}`), "RelayTyping"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mockhandler.MockSessionService)
			svc.On(tc.expectCall, mock.Anything, mock.Anything).Return(nil).Once()

			h := handler.NewSessionHandler(svc)
			require.NoError(t, h.HandleEvent(ctx, tc.eventType, metadata, tc.payload))
			svc.AssertExpectations(t)
		})
	}
}

func TestSessionHandler_TypingPayload(t *testing.T) {
	ctx, metadata := setupHandlerTest(t)
	svc := new(mockhandler.MockSessionService)
	svc.On("RelayTyping", mock.Anything, model.SessionTypingPayload{AgentID: "u1", ConversationID: "conv-1", Typing: false}).Return(nil).Once()

	h := handler.NewSessionHandler(svc)
	require.NoError(t, h.HandleEvent(ctx, model.V1SessionTyping, metadata, []byte(`{"agent_id":"u1","conversation_id":"conv-1"}`)))
	svc.AssertExpectations(t)
}

func TestCampaignHandler_HandleEvent_Routing(t *testing.T) {
	ctx, metadata := setupHandlerTest(t)

	testCases := []struct {
		eventType  model.EventType
		expectCall string
	}{
		{model.V1CampaignStart, "StartCampaign"},
		{model.V1CampaignCancel, "CancelCampaign"},
		{model.V1CampaignSchedule, "ScheduleCampaign"},
	}

	for _, tc := range testCases {
		t.Run(string(tc.eventType), func(t *testing.T) {
			svc := new(mockhandler.MockCampaignService)
			svc.On(tc.expectCall, mock.Anything, mock.MatchedBy(func(p model.CampaignCommandPayload) bool {
				return p.CampaignID == "camp-1"
			})).Return(nil).Once()

			h := handler.NewCampaignHandler(svc)
			require.NoError(t, h.HandleEvent(ctx, tc.eventType, metadata, []byte(`{"campaign_id":"camp-1"}`)))
			svc.AssertExpectations(t)
		})
	}
}

func TestCampaignHandler_InvalidJSONIsFatal(t *testing.T) {
	ctx, metadata := setupHandlerTest(t)
	h := handler.NewCampaignHandler(new(mockhandler.MockCampaignService))

	err := h.HandleEvent(ctx, model.V1CampaignStart, metadata, []byte(`not-json`))

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}
