package emitter

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSourceUnavailable is returned when the remote source could not produce a payload.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrNotImplemented is returned for operations an emitter deliberately does not support.
	ErrNotImplemented = errors.New("not implemented")
	// ErrIntegrity is returned when serialized state cannot be decoded or authenticated.
	ErrIntegrity = errors.New("state integrity check failed")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	ErrDisposed     = errors.New("emitter disposed")
	ErrPollInFlight = errors.New("poll already in flight")
)

// ValidationError lists the fields that made a description, a setting or a format invalid.
type ValidationError struct {
	Fields []string
	Reason string

	// mismatch marks well-formed key material of the wrong size.
	mismatch bool
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(ErrValidation.Error())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (fields: %s)", strings.Join(e.Fields, ", "))
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for the given fields.
func Invalid(reason string, fields ...string) error {
	return &ValidationError{Fields: fields, Reason: reason}
}

func mismatched(reason string, fields ...string) error {
	return &ValidationError{Fields: fields, Reason: reason, mismatch: true}
}

func integrityf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}
