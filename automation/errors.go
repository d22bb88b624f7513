package automation

import (
	"errors"
	"fmt"
)

// ErrRuleNotFound is returned when an operation names a rule ID the
// persistent store does not hold.
var ErrRuleNotFound = errors.New("rule not found")

// ValidationError reports a rule definition rejected before persistence.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
