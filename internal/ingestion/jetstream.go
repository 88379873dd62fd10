package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/jetstream"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/observer"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // Message processed successfully, ACK it
	ActionNak                          // DLQ failure, NAK immediately
	ActionNakDelay                     // Retryable error, NAK with calculated delay
	ActionDLQ                          // Max retries reached or fatal error, publish to DLQ then ACK
)

const (
	defaultAckWait       = 30 * time.Second
	defaultMaxAckPending = 1000
)

// acker is the settlement surface of a JetStream message.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
}

// Consumer receives the tenant's inbound events from one push subscription
// and settles each message from the handler's result.
type Consumer struct {
	client        jetstream.ClientInterface
	router        RouterInterface
	cfg           config.ConsumerNatsConfig
	companyID     string
	dlqSubject    string
	ctx           context.Context
	cancel        context.CancelFunc
	sub           *nats.Subscription
	filterSubject string
}

// NewConsumer creates a consumer for the tenant's event stream
func NewConsumer(client jetstream.ClientInterface, router RouterInterface, cfg config.ConsumerNatsConfig, companyID, dlqSubject string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("company_id", companyID)))
	ctx = tenant.WithCompanyID(ctx, companyID)

	return &Consumer{
		client:     client,
		router:     router,
		cfg:        cfg,
		companyID:  companyID,
		dlqSubject: dlqSubject,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// modifySubjects expands each base subject into the stream wildcard and the
// tenant-specific filter.
func modifySubjects(subjects []string, companyID string) (streamSubjects, consumerSubjects []string) {
	for _, subject := range subjects {
		streamSubjects = append(streamSubjects, fmt.Sprintf("%s.*", subject))
		consumerSubjects = append(consumerSubjects, fmt.Sprintf("%s.%s", subject, companyID))
	}
	return streamSubjects, consumerSubjects
}

// Setup configures the NATS stream and consumer
func (c *Consumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up consumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	streamSubjects, consumerSubjects := modifySubjects(c.cfg.SubjectList, c.companyID)

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		log.Error("Failed to setup stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: consumerSubjects,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        defaultAckWait,
		MaxAckPending:  defaultMaxAckPending,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
	c.filterSubject = "v1.>"

	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup consumer", zap.Error(err), zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
		return fmt.Errorf("failed to setup consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("Consumer setup complete")
	return nil
}

// Start subscribes to the NATS stream
func (c *Consumer) Start() error {
	log := logger.FromContext(c.ctx)
	log.Info("Starting consumer subscription...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	sub, err := c.client.SubscribePush(c.filterSubject, c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream),
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("Consumer subscribed successfully")
	return nil
}

// Stop drains the subscription so in-flight messages finish before exit.
func (c *Consumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping consumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining subscription", zap.Error(err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("Consumer stopped")
}

// determineAckNakAction decides the fate of a message from the processing
// result and how many times it has been delivered.
func determineAckNakAction(
	processingErr error,
	numDelivered uint64,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}

	if numDelivered >= uint64(maxDeliver) || !apperrors.IsRetryable(processingErr) {
		return ActionDLQ, 0
	}

	delay = nakBaseDelay
	if numDelivered > 1 {
		delay = nakBaseDelay * (1 << (numDelivered - 1))
	}
	if delay > nakMaxDelay || delay <= 0 {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// handleMessage is the NATS callback for every delivered event.
func (c *Consumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()
	eventType, found := model.MapToBaseEventType(msg.Subject)

	defer func() {
		observer.ObserveEventProcessingDuration(string(eventType), c.companyID, time.Since(startTime))
		if r := recover(); r != nil {
			logger.FromContext(c.ctx).Error("[panic] Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Stack("stack"),
			)
			observer.IncEventsFailed(string(eventType), c.companyID)
			observer.IncEventProcessingAction(string(eventType), c.companyID, "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				logger.FromContext(c.ctx).Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	log := logger.FromContext(c.ctx)
	if !found {
		log.Warn("Unknown event type", zap.String("subject", msg.Subject))
		observer.IncEventProcessingAction("unknown", c.companyID, "nak_unknown_type", "unknown_event_type")
		if err := msg.Term(); err != nil {
			log.Error("Failed to terminate message for unknown event type", zap.Error(err))
		}
		return
	}

	meta, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err))
		observer.IncEventProcessingAction(string(eventType), c.companyID, "nak_metadata_error", "metadata")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		return
	}

	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get(nats.MsgIdHdr)
	}
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", meta.Sequence.Stream)
	}

	metadata := &model.MessageMetadata{
		StreamSequence:   meta.Sequence.Stream,
		ConsumerSequence: meta.Sequence.Consumer,
		NumDelivered:     meta.NumDelivered,
		NumPending:       meta.NumPending,
		Timestamp:        meta.Timestamp,
		Stream:           meta.Stream,
		Consumer:         meta.Consumer,
		MessageID:        msgID,
		MessageSubject:   msg.Subject,
		CompanyID:        c.companyID,
	}
	c.process(msg, eventType, metadata, msg.Data, startTime)
}

// process routes one event and settles the message.
func (c *Consumer) process(msg acker, eventType model.EventType, metadata *model.MessageMetadata, data []byte, startTime time.Time) {
	observer.IncEventsReceived(string(eventType), c.companyID)

	msgCtx := logger.WithLogger(c.ctx, logger.FromContext(c.ctx).With(
		zap.String("nats_message_id", metadata.MessageID),
		zap.Uint64("stream_sequence", metadata.StreamSequence),
		zap.String("subject", metadata.MessageSubject),
	))
	processingErr := c.router.Route(msgCtx, metadata, data)
	log := logger.FromContext(msgCtx)

	action, nakDelay := determineAckNakAction(processingErr, metadata.NumDelivered, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)
	errorType := "none"
	if processingErr != nil {
		errorType = observer.SanitizeErrorType(processingErr.Error())
	}

	switch action {
	case ActionAck:
		log.Debug("Successfully processed message", zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsProcessed(string(eventType), c.companyID)
		observer.IncEventProcessingAction(string(eventType), c.companyID, "ack_success", errorType)
		if err := msg.Ack(); err != nil {
			log.Error("Failed to ACK message after successful processing", zap.Error(err))
		}

	case ActionNakDelay:
		log.Info("NAKing message with delay for redelivery",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay),
		)
		observer.IncEventsFailed(string(eventType), c.companyID)
		observer.IncEventProcessingAction(string(eventType), c.companyID, "nak_retry", errorType)
		if err := msg.NakWithDelay(nakDelay); err != nil {
			log.Error("Failed to NAK message with delay", zap.Error(err))
		}

	case ActionDLQ:
		observer.IncEventsFailed(string(eventType), c.companyID)
		if err := c.publishDLQ(metadata, data, processingErr); err != nil {
			log.Error("Failed to publish message to DLQ, NAKing original message", zap.Error(err))
			observer.IncEventProcessingAction(string(eventType), c.companyID, "nak_dlq_publish_fail", "dlq_publish_fail")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after DLQ publish error", zap.Error(nakErr))
			}
			return
		}
		log.Warn("Message sent to DLQ",
			zap.Error(processingErr),
			zap.Bool("is_retryable", apperrors.IsRetryable(processingErr)),
			zap.Uint64("num_delivered", metadata.NumDelivered),
		)
		observer.IncEventProcessingAction(string(eventType), c.companyID, "dlq_published_ack_success", errorType)
		if err := msg.Ack(); err != nil {
			log.Error("Failed to ACK message after successful DLQ publish", zap.Error(err))
		}
	}
}

func (c *Consumer) publishDLQ(metadata *model.MessageMetadata, data []byte, processingErr error) error {
	errorType := "fatal"
	if apperrors.IsRetryable(processingErr) {
		errorType = "retryable"
	}
	payload := model.DLQPayload{
		SourceSubject:   metadata.MessageSubject,
		Company:         c.companyID,
		OriginalPayload: json.RawMessage(data),
		Error:           processingErr.Error(),
		ErrorType:       errorType,
		RetryCount:      metadata.NumDelivered,
		MaxRetry:        c.cfg.MaxDeliver,
		Timestamp:       utils.Now(),
	}
	if !json.Valid(data) {
		// Keep malformed originals readable inside the JSON envelope.
		quoted, _ := json.Marshal(string(data))
		payload.OriginalPayload = quoted
	}
	dlqData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal DLQ payload: %w", err)
	}

	headers := map[string]string{"Original-Nats-Msg-Id": metadata.MessageID}
	return c.client.Publish(fmt.Sprintf("%s.%s", c.dlqSubject, c.companyID), dlqData, headers)
}
