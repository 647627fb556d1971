package reservation

import "errors"

// Domain-level error values returned by the reservation engine. Every failure
// mode is a distinct value so callers can map them to precise responses.
var (
	ErrInvalidDeviceID      = errors.New("invalid device id")
	ErrInvalidDuration      = errors.New("duration must be positive")
	ErrDeviceBusy           = errors.New("device is currently in use")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrNotRunning           = errors.New("device is not running")
	ErrUserNotFound         = errors.New("user not found")
	ErrDeviceConfigNotFound = errors.New("device configuration not found")
	ErrForbidden            = errors.New("not authorized to stop this device")
)
