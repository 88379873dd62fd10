// Package channel sends outbound content to external messaging surfaces.
package channel

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/observer"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// SendRequest is one outbound message for a single recipient.
type SendRequest struct {
	CompanyID string
	Channel   model.Channel
	AccountID string
	Recipient string
	Content   string
	MediaRef  string
}

// SendResult carries the identifier the channel assigned to the message.
type SendResult struct {
	ExternalID string
}

// Transport delivers a message on one channel.
type Transport interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// Registry dispatches a request to the transport registered for its channel.
type Registry struct {
	mu         sync.RWMutex
	transports map[model.Channel]Transport
}

var _ Transport = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{transports: make(map[model.Channel]Transport)}
}

// Register binds t to ch, replacing any previous binding.
func (r *Registry) Register(ch model.Channel, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[ch] = t
}

// Supports reports whether a transport is bound to ch.
func (r *Registry) Supports(ch model.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.transports[ch]
	return ok
}

func (r *Registry) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	r.mu.RLock()
	t, ok := r.transports[req.Channel]
	r.mu.RUnlock()
	if !ok {
		observer.IncChannelSend(string(req.Channel), "unsupported")
		return SendResult{}, fmt.Errorf("%w: no transport for channel %s", apperrors.ErrCollaboratorUnavailable, req.Channel)
	}
	if req.Recipient == "" {
		return SendResult{}, fmt.Errorf("%w: recipient is required", apperrors.ErrValidation)
	}

	res, err := t.Send(ctx, req)
	if err != nil {
		result := "error"
		if apperrors.IsRateLimitedError(err) {
			result = "rate_limited"
		}
		observer.IncChannelSend(string(req.Channel), result)
		logger.FromContext(ctx).Warn("[channel] send failed",
			zap.String("channel", string(req.Channel)),
			zap.String("account_id", req.AccountID),
			zap.Error(err),
		)
		return SendResult{}, err
	}
	observer.IncChannelSend(string(req.Channel), "sent")
	return res, nil
}
