package dlqworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/ingestion"
	internal_js "gitlab.com/timkado/api/daisi-conversation-router/internal/jetstream"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/observer"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

const (
	defaultMsgChanCap = 100
	fetchMaxWait      = 5 * time.Second
	taskTimeout       = time.Minute
)

// ExhaustedStore persists events that ran out of replays.
type ExhaustedStore interface {
	SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error
}

// settler is the part of *nats.Msg used to settle a replay.
type settler interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// Worker replays dead-lettered events of one company through the event router.
type Worker struct {
	cfg         *config.Config
	logger      *zap.Logger
	js          internal_js.ClientInterface
	pool        *ants.Pool
	router      ingestion.RouterInterface
	store       ExhaustedStore
	companyID   string
	subject     string
	durableName string
	msgCh       chan *nats.Msg
	stopWg      sync.WaitGroup
	cancel      context.CancelFunc
}

// NewWorker builds the worker and declares the DLQ stream and pull consumer.
func NewWorker(cfg *config.Config, log *zap.Logger, jsClient internal_js.ClientInterface, router ingestion.RouterInterface, store ExhaustedStore, companyID string) (*Worker, error) {
	pool, err := ants.NewPool(cfg.NATS.DLQWorkers,
		ants.WithLogger(newAntsLoggerAdapter(log.Named("ants_pool"))),
		ants.WithPanicHandler(func(p interface{}) {
			log.Error("[panic] DLQ task panicked", zap.Any("panic", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	w := &Worker{
		cfg:         cfg,
		logger:      log.Named("dlq_worker").With(zap.String("company_id", companyID)),
		js:          jsClient,
		pool:        pool,
		router:      router,
		store:       store,
		companyID:   companyID,
		subject:     cfg.NATS.DLQSubject + "." + companyID,
		durableName: cfg.NATS.DLQConsumer + "_" + companyID,
		msgCh:       make(chan *nats.Msg, defaultMsgChanCap),
	}

	if err := w.setup(context.Background()); err != nil {
		pool.Release()
		return nil, err
	}

	w.logger.Info("DLQ worker initialized", zap.Int("pool_size", cfg.NATS.DLQWorkers))
	return w, nil
}

func (w *Worker) setup(ctx context.Context) error {
	streamCfg := &nats.StreamConfig{
		Name:      w.cfg.NATS.DLQStream,
		Subjects:  []string{w.cfg.NATS.DLQSubject + ".*"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    w.cfg.NATS.DLQMaxAge,
	}
	if err := w.js.SetupStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("failed to setup DLQ stream '%s': %w", streamCfg.Name, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:       w.durableName,
		FilterSubject: w.subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    w.cfg.NATS.DLQMaxDeliver,
		AckWait:       w.cfg.NATS.DLQAckWait,
		MaxAckPending: w.cfg.NATS.DLQWorkers * w.cfg.NATS.DLQFetchBatch,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}
	if err := w.js.SetupConsumer(ctx, streamCfg.Name, consumerCfg); err != nil {
		return fmt.Errorf("failed to setup DLQ consumer '%s': %w", w.durableName, err)
	}

	w.logger.Info("DLQ stream and consumer ready",
		zap.String("stream", streamCfg.Name),
		zap.String("consumer", w.durableName),
		zap.String("subject", w.subject),
	)
	return nil
}

// Start subscribes and blocks until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	derivedCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	sub, err := w.js.SubscribePull(w.cfg.NATS.DLQStream, w.subject, w.durableName)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create DLQ pull subscription: %w", err)
	}

	w.stopWg.Add(2)
	go w.fetchMessages(derivedCtx, sub)
	go w.dispatchMessages(derivedCtx)

	w.logger.Info("DLQ worker started")
	<-derivedCtx.Done()
	return nil
}

// Stop waits for the loops to exit and releases the pool.
func (w *Worker) Stop() {
	w.logger.Info("Stopping DLQ worker...")
	if w.cancel != nil {
		w.cancel()
	}
	w.stopWg.Wait()
	w.pool.Release()
	w.logger.Info("DLQ worker stopped")
}

func (w *Worker) fetchMessages(ctx context.Context, sub *nats.Subscription) {
	defer w.stopWg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := sub.Fetch(w.cfg.NATS.DLQFetchBatch, nats.MaxWait(fetchMaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, nats.ErrConnectionClosed) {
				continue
			}
			observer.IncDlqFetchError()
			w.logger.Error("Failed to fetch DLQ messages", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			select {
			case w.msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) dispatchMessages(ctx context.Context) {
	defer w.stopWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.msgCh:
			err := w.pool.Submit(func() {
				taskCtx, cancel := context.WithTimeout(context.Background(), taskTimeout)
				defer cancel()
				w.handle(taskCtx, msg)
			})
			if err != nil {
				w.logger.Error("Failed to submit DLQ task", zap.Error(err))
				if nakErr := msg.NakWithDelay(w.cfg.NATS.DLQBaseDelay); nakErr != nil {
					w.logger.Error("Failed to NAK DLQ message", zap.Error(nakErr))
				}
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *nats.Msg) {
	meta, err := msg.Metadata()
	if err != nil {
		w.logger.Error("Failed to read DLQ message metadata", zap.Error(err))
		_ = msg.Term()
		observer.IncDlqTask(w.companyID, "malformed")
		return
	}
	w.replay(ctx, msg, msg.Data, meta.NumDelivered, meta.Timestamp)
}

// replay routes the original event again and settles the DLQ message.
// A fatal error or the last allowed delivery moves the event to the
// exhausted store.
func (w *Worker) replay(ctx context.Context, msg settler, data []byte, numDelivered uint64, ts time.Time) {
	var payload model.DLQPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		w.logger.Error("Failed to unmarshal DLQ payload", zap.Error(err), zap.ByteString("data", data))
		_ = msg.Term()
		observer.IncDlqTask(w.companyID, "malformed")
		return
	}

	log := w.logger.With(
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("num_delivered", numDelivered),
	)
	ctx = tenant.WithCompanyID(ctx, payload.Company)
	ctx = logger.WithLogger(ctx, log)

	metadata := &model.MessageMetadata{
		MessageSubject: payload.SourceSubject,
		CompanyID:      payload.Company,
		NumDelivered:   numDelivered,
		Timestamp:      ts,
	}

	routeErr := w.router.Route(ctx, metadata, payload.OriginalPayload)
	if routeErr == nil {
		if err := msg.Ack(); err != nil {
			log.Error("Failed to ACK replayed DLQ message", zap.Error(err))
		}
		log.Info("DLQ event replayed")
		observer.IncDlqTask(payload.Company, "replayed")
		return
	}

	if apperrors.IsFatal(routeErr) || int(numDelivered) >= w.cfg.NATS.DLQMaxDeliver {
		w.exhaust(ctx, msg, payload, data, numDelivered, routeErr)
		return
	}

	delay := backoffDelay(numDelivered, w.cfg.NATS.DLQBaseDelay, w.cfg.NATS.DLQMaxDelay)
	log.Warn("DLQ replay failed, retrying later", zap.Error(routeErr), zap.Duration("delay", delay))
	if err := msg.NakWithDelay(delay); err != nil {
		log.Error("Failed to NAK DLQ message", zap.Error(err))
	}
	observer.IncDlqTask(payload.Company, "retry")
}

func (w *Worker) exhaust(ctx context.Context, msg settler, payload model.DLQPayload, data []byte, numDelivered uint64, routeErr error) {
	log := logger.FromContext(ctx)

	event := model.ExhaustedEvent{
		CompanyID:       payload.Company,
		SourceSubject:   payload.SourceSubject,
		LastError:       routeErr.Error(),
		RetryCount:      int(numDelivered),
		EventTimestamp:  payload.Timestamp,
		DLQPayload:      datatypes.JSON(data),
		OriginalPayload: datatypes.JSON(payload.OriginalPayload),
	}
	if err := w.store.SaveExhaustedEvent(ctx, event); err != nil {
		log.Error("Failed to persist exhausted event, terminating anyway", zap.Error(err))
		observer.IncDlqTask(payload.Company, "dropped")
	} else {
		log.Warn("DLQ event exhausted", zap.Error(routeErr))
		observer.IncDlqTask(payload.Company, "exhausted")
	}

	if err := msg.Term(); err != nil {
		log.Error("Failed to terminate exhausted DLQ message", zap.Error(err))
	}
}

// backoffDelay doubles base for every delivery after the first, capped at max.
func backoffDelay(numDelivered uint64, base, max time.Duration) time.Duration {
	if numDelivered <= 1 {
		return base
	}
	delay := base
	for i := uint64(1); i < numDelivered; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
