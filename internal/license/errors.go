package license

import (
	"errors"
	"fmt"

	"keyserve.app/cloud/internal/models"
)

// ErrDeviceNotBound is returned by Refresh when the device was never
// attached to the license.
var ErrDeviceNotBound = errors.New("device not bound to license")

// QuotaExceededError means the plan's device limit is already reached.
type QuotaExceededError struct {
	Plan  models.Plan
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("device limit of %d reached for %s plan", e.Limit, e.Plan)
}

// Usability failure reasons. Stable strings, clients match on them.
const (
	ReasonNotActive = "not active"
	ReasonExpired   = "expired"
)

// NotUsableError rejects validation with the actual cause, distinguishing a
// non-active status from a passed expiry.
type NotUsableError struct {
	Reason string
}

func (e *NotUsableError) Error() string {
	return "license " + e.Reason
}
