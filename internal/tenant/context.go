package tenant

import (
	"context"
	"errors"
)

type contextKey string

const (
	companyIDKey contextKey = "companyID"
	requestIDKey contextKey = "requestID"
)

// ErrCompanyIDNotFound is returned when no company id is attached to the context.
var ErrCompanyIDNotFound = errors.New("company ID not found in context")

// ErrNoRequestIDInContext is returned when no request id is attached to the context.
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithCompanyID scopes ctx to a company.
func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, companyIDKey, companyID)
}

// FromContext returns the company id ctx is scoped to.
func FromContext(ctx context.Context) (string, error) {
	companyID, ok := ctx.Value(companyIDKey).(string)
	if !ok || companyID == "" {
		return "", ErrCompanyIDNotFound
	}
	return companyID, nil
}

// WithRequestID tags ctx with the id logged on every line of one event.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}
