package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

func TestSaveMessage_BumpsConversationActivity(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	msg := &model.Message{
		CompanyID:      testCompanyID,
		ConversationID: "conv-1",
		Content:        "hello",
		Type:           model.MessageTypeText,
		Direction:      model.DirectionInbound,
		Status:         model.DeliverySent,
		Channel:        model.ChannelWhatsApp,
		SentAt:         time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(sqlPattern(`INSERT INTO "messages"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(sqlPattern(`UPDATE "conversations" SET "last_activity_at"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveMessage(ctx, msg))
	assert.NotEmpty(t, msg.ID)
}

func TestListRecentMessages_ChronologicalOrder(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)
	now := time.Now()

	mock.ExpectQuery(sqlPattern(`SELECT * FROM "messages"`, `ORDER BY sent_at DESC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "sent_at"}).
			AddRow("m3", "third", now).
			AddRow("m2", "second", now.Add(-time.Minute)).
			AddRow("m1", "first", now.Add(-2*time.Minute)))

	messages, err := repo.ListRecentMessages(ctx, "conv-1", 3)

	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "m3", messages[2].ID)
}

func TestLatestInboundMessage(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	mock.ExpectQuery(sqlPattern(`SELECT * FROM "messages"`, `direction = $3`, `ORDER BY sent_at DESC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "channel", "direction"}).
			AddRow("m9", testCompanyID, string(model.ChannelSMS), string(model.DirectionInbound)))

	msg, err := repo.LatestInboundMessage(ctx, "conv-1")

	require.NoError(t, err)
	assert.Equal(t, model.ChannelSMS, msg.Channel)
}

func TestLatestInboundMessage_None(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	mock.ExpectQuery(sqlPattern(`SELECT * FROM "messages"`, `direction = $3`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.LatestInboundMessage(ctx, "conv-1")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestUpdateMessageStatus_SentToDelivered(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(sqlPattern(`SELECT * FROM "messages"`, `FOR UPDATE`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "status"}).
			AddRow("m1", testCompanyID, string(model.DeliverySent)))
	mock.ExpectExec(sqlPattern(`UPDATE "messages" SET "status"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := repo.UpdateMessageStatus(ctx, "wamid.1", model.DeliveryDelivered)

	require.NoError(t, err)
	assert.Equal(t, model.DeliveryDelivered, msg.Status)
}

func TestUpdateMessageStatus_CampaignDeliveryIsCounted(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(sqlPattern(`SELECT * FROM "messages"`, `FOR UPDATE`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "status", "campaign_id"}).
			AddRow("m1", testCompanyID, string(model.DeliverySent), "camp-1"))
	mock.ExpectExec(sqlPattern(`UPDATE "messages" SET "status"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(sqlPattern(`UPDATE "campaigns" SET "results"=jsonb_set`, `'{delivered}'`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := repo.UpdateMessageStatus(ctx, "wamid.1", model.DeliveryDelivered)

	require.NoError(t, err)
	assert.Equal(t, model.DeliveryDelivered, msg.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMessageStatus_CampaignFailureLeavesCountersAlone(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(sqlPattern(`SELECT * FROM "messages"`, `FOR UPDATE`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "status", "campaign_id"}).
			AddRow("m1", testCompanyID, string(model.DeliverySent), "camp-1"))
	mock.ExpectExec(sqlPattern(`UPDATE "messages" SET "status"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.UpdateMessageStatus(ctx, "m1", model.DeliveryFailed)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMessageStatus_RejectsSettledStatus(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(sqlPattern(`SELECT * FROM "messages"`, `FOR UPDATE`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "status"}).
			AddRow("m1", testCompanyID, string(model.DeliveryDelivered)))
	mock.ExpectRollback()

	_, err := repo.UpdateMessageStatus(ctx, "m1", model.DeliveryFailed)
	assert.True(t, apperrors.IsInvariantViolation(err))
}
