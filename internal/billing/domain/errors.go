package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error kinds. Every error leaving the billing packages is marked with
// exactly one of these so callers can branch with errors.Is.
var (
	// ErrValidation marks a client-detected precondition violation. Never
	// sent over the network.
	ErrValidation = errors.New("validation error")

	// ErrTransient marks network failures and timeouts. Re-invoking the same
	// operation may succeed.
	ErrTransient = errors.New("transient error")

	// ErrServerRejection marks a well-formed refusal from the backend.
	ErrServerRejection = errors.New("server rejection")

	// ErrIntegrity marks a malformed server payload.
	ErrIntegrity = errors.New("integrity error")

	// ErrProcessing marks a proof-of-payment that could not be read or encoded.
	ErrProcessing = errors.New("processing error")
)

const genericRetryMessage = "Something went wrong. Please try again."

// RejectionError carries the backend's refusal reason verbatim.
type RejectionError struct {
	StatusCode int
	Reason     string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.StatusCode, e.Reason)
}

// NewValidationError reports an illegal request detected before any I/O.
func NewValidationError(message string) error {
	err := errors.WithHint(errors.New(message), message)
	return errors.Mark(err, ErrValidation)
}

// NewTransientError wraps a network or timeout failure.
func NewTransientError(cause error, operation string) error {
	if cause == nil {
		cause = errors.New("request failed")
	}
	err := errors.Wrapf(cause, "%s", operation)
	err = errors.WithHint(err, "We couldn't reach the server. Check your connection and try again.")
	return errors.Mark(err, ErrTransient)
}

// NewServerRejection reports a refusal, keeping the server message intact.
func NewServerRejection(statusCode int, reason string) error {
	err := errors.WithHint(&RejectionError{StatusCode: statusCode, Reason: reason}, reason)
	return errors.Mark(err, ErrServerRejection)
}

// NewIntegrityError reports a payload that cannot be trusted.
func NewIntegrityError(cause error, message string) error {
	var err error
	if cause == nil {
		err = errors.New(message)
	} else {
		err = errors.Wrap(cause, message)
	}
	err = errors.WithHint(err, genericRetryMessage)
	return errors.Mark(err, ErrIntegrity)
}

// NewProcessingError reports an unreadable or unusable proof of payment.
func NewProcessingError(cause error, message string) error {
	var err error
	if cause == nil {
		err = errors.New(message)
	} else {
		err = errors.Wrap(cause, message)
	}
	err = errors.WithHint(err, message)
	return errors.Mark(err, ErrProcessing)
}

func IsValidation(err error) bool      { return errors.Is(err, ErrValidation) }
func IsTransient(err error) bool       { return errors.Is(err, ErrTransient) }
func IsServerRejection(err error) bool { return errors.Is(err, ErrServerRejection) }
func IsIntegrity(err error) bool       { return errors.Is(err, ErrIntegrity) }
func IsProcessing(err error) bool      { return errors.Is(err, ErrProcessing) }

// RejectionStatus returns the HTTP status of a server rejection, or 0.
func RejectionStatus(err error) int {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection.StatusCode
	}
	return 0
}

// UserMessage returns the text a caller should show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection.Reason
	}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		return hints[0]
	}
	return genericRetryMessage
}
