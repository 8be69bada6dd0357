package subscriptions

import (
	"errors"
	"fmt"
)

// ErrNotFound covers missing, deleted and unauthenticated lookups alike so
// callers cannot tell them apart.
var ErrNotFound = errors.New("subscription not found")

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
