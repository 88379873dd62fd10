package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// Client wraps NATS JetStream functionality
type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient connects to NATS, retrying with exponential backoff until
// connectTimeout elapses, and opens a JetStream context.
func NewClient(ctx context.Context, url string, connectTimeout time.Duration) (*Client, error) {
	opts := []nats.Option{
		nats.Name("daisi-conversation-router"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, s *nats.Subscription, err error) {
			logger.Log.Error("NATS error", zap.Error(err))
		}),
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = connectTimeout

	var nc *nats.Conn
	connect := func() error {
		var err error
		nc, err = nats.Connect(url, opts...)
		return err
	}
	notify := func(err error, d time.Duration) {
		logger.Log.Warn("NATS connect failed, retrying", zap.String("url", url), zap.Error(err), zap.Duration("after", d))
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to NATS: %w", apperrors.ErrNATS, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: failed to create JetStream context: %w", apperrors.ErrNATS, err)
	}

	return &Client{
		nc: nc,
		js: js,
	}, nil
}

// SetupStream creates the stream, or updates it when the live config differs.
func (c *Client) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", streamConfig.Name))

	info, err := c.js.StreamInfo(streamConfig.Name)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := c.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("%w: add stream %s: %w", apperrors.ErrNATS, streamConfig.Name, err)
		}
		log.Info("[jetstream] stream created", zap.Strings("subjects", streamConfig.Subjects))
	case err != nil:
		return fmt.Errorf("%w: stream info %s: %w", apperrors.ErrNATS, streamConfig.Name, err)
	case !StreamConfigEqual(info.Config, *streamConfig):
		if _, err := c.js.UpdateStream(streamConfig); err != nil {
			return fmt.Errorf("%w: update stream %s: %w", apperrors.ErrNATS, streamConfig.Name, err)
		}
		log.Info("[jetstream] stream updated", zap.Strings("subjects", streamConfig.Subjects))
	default:
		log.Debug("[jetstream] stream up to date")
	}
	return nil
}

// SetupConsumer creates the durable on streamName. Consumer configs cannot be
// edited in place, so a drifted consumer is deleted and added again.
func (c *Client) SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error {
	durable := consumerConfig.Durable
	log := logger.FromContext(ctx).With(zap.String("stream", streamName), zap.String("consumer", durable))

	info, err := c.js.ConsumerInfo(streamName, durable)
	switch {
	case errors.Is(err, nats.ErrConsumerNotFound):
	case err != nil:
		return fmt.Errorf("%w: consumer info %s/%s: %w", apperrors.ErrNATS, streamName, durable, err)
	case ConsumerConfigEqual(info.Config, *consumerConfig):
		log.Debug("[jetstream] consumer up to date")
		return nil
	default:
		log.Warn("[jetstream] consumer config drifted, recreating",
			zap.String("wanted", fmt.Sprintf("%+v", *consumerConfig)),
			zap.String("current", fmt.Sprintf("%+v", info.Config)),
		)
		if err := c.js.DeleteConsumer(streamName, durable); err != nil {
			return fmt.Errorf("%w: delete consumer %s/%s: %w", apperrors.ErrNATS, streamName, durable, err)
		}
	}

	if _, err := c.js.AddConsumer(streamName, consumerConfig); err != nil {
		return fmt.Errorf("%w: add consumer %s/%s: %w", apperrors.ErrNATS, streamName, durable, err)
	}
	log.Info("[jetstream] consumer ready",
		zap.String("deliver_group", consumerConfig.DeliverGroup),
		zap.String("filter_subject", consumerConfig.FilterSubject),
	)
	return nil
}

// SubscribePush joins the queue group on an existing durable. Acks are manual.
func (c *Client) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.js.QueueSubscribe(subject, group, handler,
		nats.Durable(consumer),
		nats.ManualAck(),
		nats.BindStream(stream),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: push subscribe %s: %w", apperrors.ErrNATS, consumer, err)
	}
	return sub, nil
}

func (c *Client) SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error) {
	sub, err := c.js.PullSubscribe(subject, consumer, nats.Bind(streamName, consumer))
	if err != nil {
		return nil, fmt.Errorf("%w: pull subscribe %s/%s: %w", apperrors.ErrNATS, streamName, consumer, err)
	}
	return sub, nil
}

// Publish sends data to subject through JetStream and waits for the ack.
func (c *Client) Publish(subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	if _, err := c.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: publish to %s: %w", apperrors.ErrNATS, subject, err)
	}
	return nil
}

func (c *Client) NatsConn() *nats.Conn {
	return c.nc
}

func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
