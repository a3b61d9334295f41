package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so retry policy can be applied uniformly,
// regardless of which collaborator produced it.
type Kind string

const (
	// KindValidation marks malformed input. Never retried.
	KindValidation Kind = "validation"
	// KindAuth marks a bad, missing, or expired credential or signature. Never retried.
	KindAuth Kind = "auth"
	// KindTransient marks a network, timeout, or external-service failure.
	// Retried per the job's backoff policy up to its attempt cap.
	KindTransient Kind = "transient"
	// KindFatal marks an unavailable store or missing configuration.
	// Surfaced immediately, not retried.
	KindFatal Kind = "fatal"
)

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func Auth(message string) *Error {
	return New(KindAuth, message)
}

func Transient(message string, cause error) *Error {
	return Wrap(KindTransient, message, cause)
}

func Fatal(message string, cause error) *Error {
	return Wrap(KindFatal, message, cause)
}

// KindOf extracts the classification from err. Unclassified errors are
// treated as transient so they stay eligible for retry.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// Retryable reports whether a job failing with err should be re-admitted.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
