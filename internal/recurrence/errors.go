package recurrence

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRule matches every *InvalidRuleError.
	ErrInvalidRule = errors.New("invalid recurrence rule")

	// ErrNotFound is returned when a mutation target is not in the collection.
	ErrNotFound = errors.New("activity not found")

	// ErrSeriesBoundsExceeded is reported on Series.Warning when generation
	// hit the safety cap. The truncated series is still usable.
	ErrSeriesBoundsExceeded = errors.New("series exceeds occurrence cap")

	// ErrNotRecurring is returned for "future"/"all" mutations whose target
	// has no series id. The input collection is returned unchanged.
	ErrNotRecurring = errors.New("activity is not part of a series")

	// ErrInvalidScope is returned for a scope other than one, future or all.
	ErrInvalidScope = errors.New("invalid mutation scope")

	// ErrInvalidOperation is returned for an unknown Operation kind.
	ErrInvalidOperation = errors.New("invalid mutation operation")
)

// InvalidRuleError names the offending rule field.
type InvalidRuleError struct {
	Field  string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid recurrence rule: %s: %s", e.Field, e.Reason)
}

func (e *InvalidRuleError) Unwrap() error {
	return ErrInvalidRule
}

func invalid(field, format string, args ...any) error {
	return &InvalidRuleError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
