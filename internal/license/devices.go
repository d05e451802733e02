package license

import (
	"keyserve.app/cloud/internal/models"
)

// Quota is the maximum number of concurrently bound devices for a plan.
func Quota(plan models.Plan) int {
	if plan == models.PlanMulti {
		return 3
	}
	return 1
}

// Attach binds a device to the license. Re-attaching a bound device is a
// no-op. The check and the mutation happen on the same in-memory record, so
// callers must run Attach inside the storage layer's atomic license update.
func Attach(l *models.License, deviceID string) error {
	if l.Devices.Has(deviceID) {
		return nil
	}
	if l.Devices.Len() >= Quota(l.Plan) {
		return &QuotaExceededError{Plan: l.Plan, Limit: Quota(l.Plan)}
	}
	if l.Devices == nil {
		l.Devices = models.NewDeviceSet()
	}
	l.Devices.Add(deviceID)
	return nil
}

// Detach removes a device binding. Unknown devices are a no-op.
func Detach(l *models.License, deviceID string) {
	l.Devices.Remove(deviceID)
}

// IsBound reports whether the device is attached to the license.
func IsBound(l *models.License, deviceID string) bool {
	return l.Devices.Has(deviceID)
}
