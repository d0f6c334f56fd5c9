package subscriptions

import (
	"errors"
	"fmt"
)

// ErrSubscriptionNotFound is returned when a subscription id does not exist
var ErrSubscriptionNotFound = errors.New("subscription not found")

// ValidationError signals malformed subscription input from the caller
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid subscription: %s %s", e.Field, e.Reason)
}
