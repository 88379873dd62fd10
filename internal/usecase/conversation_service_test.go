package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/realtime"
	realtimemock "gitlab.com/timkado/api/daisi-conversation-router/internal/realtime/mock"
	storagemock "gitlab.com/timkado/api/daisi-conversation-router/internal/storage/mock"
)

func TestFindOrCreateActive_InitialStatus(t *testing.T) {
	ctx := testCtx(t)
	repo := new(storagemock.ConversationRepoMock)
	svc := NewConversationService(repo, quietNotifier())

	pending := model.NewConversation(&model.Conversation{Status: model.ConversationPending})
	open := model.NewConversation(&model.Conversation{Status: model.ConversationOpen})
	repo.On("FindOrCreateActiveConversation", ctx, "c1", model.ChannelWhatsApp, model.ConversationPending).Return(pending, true, nil).Once()
	repo.On("FindOrCreateActiveConversation", ctx, "c2", model.ChannelSMS, model.ConversationOpen).Return(open, true, nil).Once()

	conv, created, err := svc.FindOrCreateActive(ctx, "c1", model.ChannelWhatsApp, false)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.ConversationPending, conv.Status)

	conv, _, err = svc.FindOrCreateActive(ctx, "c2", model.ChannelSMS, true)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationOpen, conv.Status)

	_, _, err = svc.FindOrCreateActive(ctx, "", model.ChannelSMS, true)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	repo.AssertExpectations(t)
}

func TestAssign_EmitsCompanyAndUserEvents(t *testing.T) {
	ctx := testCtx(t)
	repo := new(storagemock.ConversationRepoMock)
	notifier := new(realtimemock.NotifierMock)
	svc := NewConversationService(repo, notifier)

	assignment := &model.ConversationAgent{ConversationID: "conv-1", AgentID: "agent-1", Active: true}
	repo.On("AssignAgent", ctx, "conv-1", "agent-1", false).Return(assignment, nil).Once()
	notifier.On("Emit", ctx, mock.MatchedBy(func(ev realtime.Event) bool {
		return ev.Name == model.EventConversationAssigned && ev.Audience == model.AudienceCompany
	})).Return(nil).Once()
	notifier.On("Emit", ctx, mock.MatchedBy(func(ev realtime.Event) bool {
		return ev.Name == model.EventConversationAssigned && ev.Audience == model.AudienceUser && ev.UserID == "agent-1"
	})).Return(nil).Once()

	got, err := svc.Assign(ctx, "conv-1", "agent-1", false)

	require.NoError(t, err)
	assert.Same(t, assignment, got)
	notifier.AssertExpectations(t)
}

func TestAssign_AlreadyAssignedPassesThrough(t *testing.T) {
	ctx := testCtx(t)
	repo := new(storagemock.ConversationRepoMock)
	notifier := new(realtimemock.NotifierMock)
	svc := NewConversationService(repo, notifier)
	repo.On("AssignAgent", ctx, "conv-1", "agent-2", false).Return(nil, apperrors.ErrAlreadyAssigned).Once()

	_, err := svc.Assign(ctx, "conv-1", "agent-2", false)

	assert.ErrorIs(t, err, apperrors.ErrAlreadyAssigned)
	assert.ErrorIs(t, err, apperrors.ErrInvariantViolation)
	assert.False(t, apperrors.IsCollaboratorUnavailable(err))
	notifier.AssertNotCalled(t, "Emit", mock.Anything, mock.Anything)
}

func TestClose_RatingRange(t *testing.T) {
	ctx := testCtx(t)
	repo := new(storagemock.ConversationRepoMock)
	svc := NewConversationService(repo, quietNotifier())

	for _, bad := range []int{0, 6, -1} {
		_, err := svc.Close(ctx, "conv-1", intPtr(bad))
		assert.ErrorIs(t, err, apperrors.ErrValidation, "rating %d", bad)
	}
	repo.AssertNotCalled(t, "CloseConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestClose_EmitsClosed(t *testing.T) {
	ctx := testCtx(t)
	repo := new(storagemock.ConversationRepoMock)
	notifier := new(realtimemock.NotifierMock)
	svc := NewConversationService(repo, notifier)

	rating := intPtr(5)
	closed := model.NewConversation(&model.Conversation{ID: "conv-1", Status: model.ConversationClosed})
	repo.On("CloseConversation", ctx, "conv-1", rating).Return(closed, nil).Once()
	notifier.On("Emit", ctx, realtimemock.EventNamed(model.EventConversationClosed)).Return(nil).Once()

	got, err := svc.Close(ctx, "conv-1", rating)

	require.NoError(t, err)
	assert.Equal(t, model.ConversationClosed, got.Status)
	notifier.AssertExpectations(t)
}

func TestTransfer(t *testing.T) {
	ctx := testCtx(t)
	repo := new(storagemock.ConversationRepoMock)
	notifier := new(realtimemock.NotifierMock)
	svc := NewConversationService(repo, notifier)

	_, err := svc.Transfer(ctx, "conv-1", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	moved := model.NewConversation(&model.Conversation{ID: "conv-1", Status: model.ConversationPending, DepartmentID: strPtr("billing")})
	repo.On("TransferConversation", ctx, "conv-1", "billing").Return(moved, nil).Once()
	notifier.On("Emit", ctx, realtimemock.EventNamed(model.EventConversationPending)).Return(nil).Once()

	got, err := svc.Transfer(ctx, "conv-1", "billing")
	require.NoError(t, err)
	assert.Equal(t, "billing", *got.DepartmentID)
	notifier.AssertExpectations(t)
}

func TestReopen_ConflictingActiveConversation(t *testing.T) {
	ctx := testCtx(t)
	repo := new(storagemock.ConversationRepoMock)
	svc := NewConversationService(repo, quietNotifier())
	repo.On("ReopenConversation", ctx, "conv-old").Return(nil, apperrors.ErrInvariantViolation).Once()

	_, err := svc.Reopen(ctx, "conv-old")

	assert.ErrorIs(t, err, apperrors.ErrInvariantViolation)
}

func TestNotifierFailureDoesNotFailTransition(t *testing.T) {
	ctx := testCtx(t)
	repo := new(storagemock.ConversationRepoMock)
	notifier := new(realtimemock.NotifierMock)
	svc := NewConversationService(repo, notifier)

	conv := model.NewConversation(&model.Conversation{ID: "conv-1", Status: model.ConversationPending})
	repo.On("MarkConversationPending", ctx, "conv-1").Return(conv, nil).Once()
	notifier.On("Emit", mock.Anything, mock.Anything).Return(apperrors.ErrNATS).Once()

	got, err := svc.MarkPending(ctx, "conv-1")

	require.NoError(t, err)
	assert.Same(t, conv, got)
}

func TestMarkPending_AssignedConversationIsNotAnnounced(t *testing.T) {
	ctx := testCtx(t)
	repo := new(storagemock.ConversationRepoMock)
	notifier := new(realtimemock.NotifierMock)
	svc := NewConversationService(repo, notifier)

	conv := model.NewConversation(&model.Conversation{ID: "conv-1", Status: model.ConversationOpen})
	repo.On("MarkConversationPending", ctx, "conv-1").Return(conv, nil).Once()

	got, err := svc.MarkPending(ctx, "conv-1")

	require.NoError(t, err)
	assert.Equal(t, model.ConversationOpen, got.Status)
	notifier.AssertNotCalled(t, "Emit", mock.Anything, mock.Anything)
}

func TestUnavailableWrapsStoreErrors(t *testing.T) {
	assert.Nil(t, unavailable(nil, "op"))

	err := unavailable(apperrors.ErrDatabase, "save")
	assert.ErrorIs(t, err, apperrors.ErrCollaboratorUnavailable)
	assert.ErrorIs(t, err, apperrors.ErrDatabase)

	err = unavailable(apperrors.ErrNotFound, "load")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, apperrors.IsCollaboratorUnavailable(err))
}
