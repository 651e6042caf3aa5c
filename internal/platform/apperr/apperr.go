// Package apperr defines the error taxonomy shared across domain services.
// Handlers map these sentinels to HTTP status codes; background paths log
// them instead of bubbling them to callers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a referenced patient, conversation, task, or alert
	// that does not exist. Handlers surface it as an empty state, not a crash.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed input rejected before persistence.
	ErrValidation = errors.New("validation failed")

	// ErrTransient marks a persistence or responder call that failed to
	// complete. Reads may be retried; writes that create messages must not be.
	ErrTransient = errors.New("transient failure")

	// ErrEscalationWrite marks an alert write failure. Message delivery must
	// still proceed when it occurs.
	ErrEscalationWrite = errors.New("escalation write failed")

	// ErrSubscription marks a dropped realtime channel.
	ErrSubscription = errors.New("subscription dropped")
)

// NotFound wraps ErrNotFound with the resource kind and identifier.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// Validation wraps ErrValidation with a reason.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// Transient wraps ErrTransient around an underlying cause.
func Transient(op string, cause error) error {
	return fmt.Errorf("%s: %v: %w", op, cause, ErrTransient)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is (or wraps) ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsTransient reports whether err is (or wraps) ErrTransient.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
