package storage

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

func TestSaveExhaustedEvent_Success(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	companyID := "company-exhausted-ok"
	ctx := tenant.WithCompanyID(context.Background(), companyID)
	ctx = logger.WithLogger(ctx, zaptest.NewLogger(t))

	dlqPayloadJSON, _ := json.Marshal(map[string]string{"error": "failed to process"})
	originalPayloadJSON, _ := json.Marshal(map[string]string{"data": "original data"})

	event := model.ExhaustedEvent{
		CompanyID:       companyID,
		SourceSubject:   "v1.messages.inbound.acme",
		LastError:       "some error",
		RetryCount:      5,
		EventTimestamp:  time.Now(),
		DLQPayload:      datatypes.JSON(dlqPayloadJSON),
		OriginalPayload: datatypes.JSON(originalPayloadJSON),
	}

	query := regexp.QuoteMeta(`INSERT INTO "exhausted_events" ("created_at","company_id","source_subject","last_error","retry_count","event_timestamp","dlq_payload","original_payload","resolved","resolved_at","notes") VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING "id"`)

	mock.ExpectBegin()
	mock.ExpectQuery(query).
		WithArgs(sqlmock.AnyArg(), event.CompanyID, event.SourceSubject, event.LastError, event.RetryCount, event.EventTimestamp, event.DLQPayload, event.OriginalPayload, false, nil, "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := repo.SaveExhaustedEvent(ctx, event)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveExhaustedEvent_BeginError(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	companyID := "company-exhausted-begin"
	ctx := tenant.WithCompanyID(context.Background(), companyID)
	ctx = logger.WithLogger(ctx, zaptest.NewLogger(t))

	dlqPayloadJSON, _ := json.Marshal(map[string]string{"error": "failed to process"})
	originalPayloadJSON, _ := json.Marshal(map[string]string{"data": "original data"})
	event := model.ExhaustedEvent{CompanyID: companyID, SourceSubject: "v1.messages.inbound.acme", DLQPayload: dlqPayloadJSON, OriginalPayload: originalPayloadJSON}

	expectedErr := errors.New("failed to begin")
	mock.ExpectBegin().WillReturnError(expectedErr)

	err := repo.SaveExhaustedEvent(ctx, event)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDatabase), "Expected ErrDatabase")
	assert.Contains(t, err.Error(), expectedErr.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveExhaustedEvent_CreateError(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	companyID := "company-exhausted-create"
	ctx := tenant.WithCompanyID(context.Background(), companyID)
	ctx = logger.WithLogger(ctx, zaptest.NewLogger(t))

	dlqPayloadJSON, _ := json.Marshal(map[string]string{"error": "failed to process"})
	originalPayloadJSON, _ := json.Marshal(map[string]string{"data": "original data"})
	event := model.ExhaustedEvent{CompanyID: companyID, SourceSubject: "v1.messages.inbound.acme", DLQPayload: dlqPayloadJSON, OriginalPayload: originalPayloadJSON}

	query := regexp.QuoteMeta(`INSERT INTO "exhausted_events"`)
	expectedErr := errors.New("db connection lost")

	mock.ExpectBegin()
	mock.ExpectQuery(query).
		WithArgs(sqlmock.AnyArg(), event.CompanyID, event.SourceSubject, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), event.DLQPayload, event.OriginalPayload, false, nil, "").
		WillReturnError(expectedErr)
	mock.ExpectRollback()

	err := repo.SaveExhaustedEvent(ctx, event)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDatabase), "Expected ErrDatabase")
	assert.Contains(t, err.Error(), expectedErr.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveExhaustedEvent_CommitError(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	companyID := "company-exhausted-commit"
	ctx := tenant.WithCompanyID(context.Background(), companyID)
	ctx = logger.WithLogger(ctx, zaptest.NewLogger(t))

	dlqPayloadJSON, _ := json.Marshal(map[string]string{"error": "failed to process"})
	originalPayloadJSON, _ := json.Marshal(map[string]string{"data": "original data"})
	event := model.ExhaustedEvent{CompanyID: companyID, SourceSubject: "v1.messages.inbound.acme", DLQPayload: dlqPayloadJSON, OriginalPayload: originalPayloadJSON}

	query := regexp.QuoteMeta(`INSERT INTO "exhausted_events"`)
	expectedErr := errors.New("commit failed")

	mock.ExpectBegin()
	mock.ExpectQuery(query).
		WithArgs(sqlmock.AnyArg(), event.CompanyID, event.SourceSubject, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), event.DLQPayload, event.OriginalPayload, false, nil, "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit().WillReturnError(expectedErr)

	err := repo.SaveExhaustedEvent(ctx, event)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDatabase), "Expected ErrDatabase")
	assert.Contains(t, err.Error(), expectedErr.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}
