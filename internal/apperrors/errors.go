package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError marks a failure that may succeed on redelivery.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a RetryableError with a formatted message prefix.
func NewRetryable(err error, message string, args ...interface{}) error {
	allArgs := append(args, err)
	return &RetryableError{Err: fmt.Errorf(message+": %w", allArgs...)}
}

// FatalError marks a failure that redelivery will not fix.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps err as a FatalError with a formatted message prefix.
func NewFatal(err error, message string, args ...interface{}) error {
	allArgs := append(args, err)
	return &FatalError{Err: fmt.Errorf(message+": %w", allArgs...)}
}

var (
	// ErrNotFound: the referenced entity does not exist or belongs to another company.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation: input failed validation.
	ErrValidation = errors.New("validation failed")
	// ErrDatabase: the persistence store returned an error or is unreachable.
	ErrDatabase = errors.New("database error")
	// ErrNATS: publishing or consuming on NATS failed.
	ErrNATS = errors.New("nats communication error")
	// ErrDuplicate: a unique constraint was hit.
	ErrDuplicate = errors.New("duplicate resource")
	// ErrConflict: serialization failure or lock contention.
	ErrConflict = errors.New("resource conflict")
	// ErrBadRequest: malformed input or cross-tenant access.
	ErrBadRequest = errors.New("bad request")
	// ErrTimeout: an operation did not finish in time.
	ErrTimeout = errors.New("operation timeout")
	// ErrRateLimited: a channel refused the send because of throughput limits.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInvariantViolation: the requested transition would break a lifecycle invariant.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrCollaboratorUnavailable: a channel, AI or realtime collaborator failed.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// ErrAlreadyAssigned is an invariant violation: errors.Is matches both.
var ErrAlreadyAssigned = fmt.Errorf("%w: conversation already has an active assignment", ErrInvariantViolation)

func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabase)
}

func IsNATSError(err error) bool {
	return errors.Is(err, ErrNATS)
}

func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsBadRequestError(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func IsRateLimitedError(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}

func IsAlreadyAssigned(err error) bool {
	return errors.Is(err, ErrAlreadyAssigned)
}

func IsCollaboratorUnavailable(err error) bool {
	return errors.Is(err, ErrCollaboratorUnavailable)
}

// Classify wraps err for the consumer's ack/nak decision. Transient store,
// broker and collaborator failures are retryable, everything else is fatal.
// Already classified errors are returned unchanged.
func Classify(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if IsRetryable(err) || IsFatal(err) {
		return err
	}
	switch {
	case errors.Is(err, ErrDatabase),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrNATS),
		errors.Is(err, ErrCollaboratorUnavailable):
		return NewRetryable(err, message, args...)
	default:
		return NewFatal(err, message, args...)
	}
}
