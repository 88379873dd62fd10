package dlqworker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

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
	storagemock "gitlab.com/timkado/api/daisi-conversation-router/internal/storage/mock"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
)

type fakeMsg struct {
	acked      bool
	termed     bool
	nakDelay   time.Duration
	nakInvoked bool
}

func (f *fakeMsg) Ack(...nats.AckOpt) error  { f.acked = true; return nil }
func (f *fakeMsg) Term(...nats.AckOpt) error { f.termed = true; return nil }
func (f *fakeMsg) NakWithDelay(d time.Duration, _ ...nats.AckOpt) error {
	f.nakInvoked = true
	f.nakDelay = d
	return nil
}

func testConfig() *config.Config {
	var cfg config.Config
	cfg.NATS.DLQStream = "conversation_dlq_stream"
	cfg.NATS.DLQSubject = "dlq"
	cfg.NATS.DLQConsumer = "conversation_dlq_worker"
	cfg.NATS.DLQWorkers = 2
	cfg.NATS.DLQFetchBatch = 5
	cfg.NATS.DLQBaseDelay = time.Minute
	cfg.NATS.DLQMaxDelay = 10 * time.Minute
	cfg.NATS.DLQMaxDeliver = 3
	cfg.NATS.DLQAckWait = 30 * time.Second
	cfg.NATS.DLQMaxAge = 24 * time.Hour
	return &cfg
}

func newTestWorker(t *testing.T) (*Worker, *ingestionmock.RouterMock, *storagemock.ExhaustedEventRepoMock) {
	client := new(jsmock.ClientMock)
	client.On("SetupStream", mock.Anything, mock.Anything).Return(nil)
	client.On("SetupConsumer", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	router := new(ingestionmock.RouterMock)
	store := new(storagemock.ExhaustedEventRepoMock)

	w, err := NewWorker(testConfig(), zaptest.NewLogger(t), client, router, store, "acme")
	require.NoError(t, err)
	t.Cleanup(w.pool.Release)
	return w, router, store
}

func dlqPayload(t *testing.T) []byte {
	data, err := json.Marshal(model.DLQPayload{
		SourceSubject:   "v1.messages.inbound.acme",
		Company:         "acme",
		OriginalPayload: json.RawMessage(`{"channel":"WHATSAPP"}`),
		Error:           "db down",
		ErrorType:       "retryable",
		Timestamp:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return data
}

func TestNewWorker_DeclaresStreamAndConsumer(t *testing.T) {
	client := new(jsmock.ClientMock)
	client.On("SetupStream", mock.Anything, mock.MatchedBy(func(sc *nats.StreamConfig) bool {
		return sc.Name == "conversation_dlq_stream" && sc.Subjects[0] == "dlq.*" && sc.MaxAge == 24*time.Hour
	})).Return(nil).Once()
	client.On("SetupConsumer", mock.Anything, "conversation_dlq_stream", mock.MatchedBy(func(cc *nats.ConsumerConfig) bool {
		return cc.Durable == "conversation_dlq_worker_acme" &&
			cc.FilterSubject == "dlq.acme" &&
			cc.MaxDeliver == 3 &&
			cc.AckPolicy == nats.AckExplicitPolicy
	})).Return(nil).Once()

	w, err := NewWorker(testConfig(), zaptest.NewLogger(t), client, new(ingestionmock.RouterMock), new(storagemock.ExhaustedEventRepoMock), "acme")

	require.NoError(t, err)
	w.pool.Release()
	client.AssertExpectations(t)
}

func TestNewWorker_StreamError(t *testing.T) {
	client := new(jsmock.ClientMock)
	client.On("SetupStream", mock.Anything, mock.Anything).Return(errors.New("jetstream not enabled")).Once()

	w, err := NewWorker(testConfig(), zaptest.NewLogger(t), client, new(ingestionmock.RouterMock), new(storagemock.ExhaustedEventRepoMock), "acme")

	require.Error(t, err)
	assert.Nil(t, w)
	client.AssertNotCalled(t, "SetupConsumer", mock.Anything, mock.Anything, mock.Anything)
}

func TestReplay_SuccessAcks(t *testing.T) {
	w, router, store := newTestWorker(t)
	router.On("Route", mock.MatchedBy(func(ctx context.Context) bool {
		companyID, err := tenant.FromContext(ctx)
		return err == nil && companyID == "acme"
	}), mock.MatchedBy(func(md *model.MessageMetadata) bool {
		return md.MessageSubject == "v1.messages.inbound.acme" && md.NumDelivered == 1
	}), []byte(`{"channel":"WHATSAPP"}`)).Return(nil).Once()

	msg := &fakeMsg{}
	w.replay(context.Background(), msg, dlqPayload(t), 1, time.Now())

	assert.True(t, msg.acked)
	assert.False(t, msg.termed)
	router.AssertExpectations(t)
	store.AssertNotCalled(t, "SaveExhaustedEvent", mock.Anything, mock.Anything)
}

func TestReplay_RetryableNaksWithBackoff(t *testing.T) {
	w, router, _ := newTestWorker(t)
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.NewRetryable(apperrors.ErrDatabase, "save")).Once()

	msg := &fakeMsg{}
	w.replay(context.Background(), msg, dlqPayload(t), 2, time.Now())

	assert.True(t, msg.nakInvoked)
	assert.Equal(t, 2*time.Minute, msg.nakDelay)
	assert.False(t, msg.acked)
}

func TestReplay_LastDeliveryIsExhausted(t *testing.T) {
	w, router, store := newTestWorker(t)
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.NewRetryable(apperrors.ErrDatabase, "save")).Once()
	store.On("SaveExhaustedEvent", mock.Anything, mock.MatchedBy(func(e model.ExhaustedEvent) bool {
		return e.CompanyID == "acme" &&
			e.SourceSubject == "v1.messages.inbound.acme" &&
			e.RetryCount == 3 &&
			string(e.OriginalPayload) == `{"channel":"WHATSAPP"}`
	})).Return(nil).Once()

	msg := &fakeMsg{}
	w.replay(context.Background(), msg, dlqPayload(t), 3, time.Now())

	assert.True(t, msg.termed)
	assert.False(t, msg.nakInvoked)
	store.AssertExpectations(t)
}

func TestReplay_FatalIsExhaustedImmediately(t *testing.T) {
	w, router, store := newTestWorker(t)
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.NewFatal(apperrors.ErrBadRequest, "unknown channel")).Once()
	store.On("SaveExhaustedEvent", mock.Anything, mock.Anything).Return(nil).Once()

	msg := &fakeMsg{}
	w.replay(context.Background(), msg, dlqPayload(t), 1, time.Now())

	assert.True(t, msg.termed)
	store.AssertExpectations(t)
}

func TestReplay_StoreFailureStillTerminates(t *testing.T) {
	w, router, store := newTestWorker(t)
	router.On("Route", mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.NewFatal(apperrors.ErrBadRequest, "bad")).Once()
	store.On("SaveExhaustedEvent", mock.Anything, mock.Anything).Return(apperrors.ErrDatabase).Once()

	msg := &fakeMsg{}
	w.replay(context.Background(), msg, dlqPayload(t), 1, time.Now())

	assert.True(t, msg.termed)
}

func TestReplay_MalformedPayloadTerminates(t *testing.T) {
	w, router, _ := newTestWorker(t)

	msg := &fakeMsg{}
	w.replay(context.Background(), msg, []byte(`not json`), 1, time.Now())

	assert.True(t, msg.termed)
	router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Minute, backoffDelay(0, time.Minute, 10*time.Minute))
	assert.Equal(t, time.Minute, backoffDelay(1, time.Minute, 10*time.Minute))
	assert.Equal(t, 4*time.Minute, backoffDelay(3, time.Minute, 10*time.Minute))
	assert.Equal(t, 10*time.Minute, backoffDelay(9, time.Minute, 10*time.Minute))
}
