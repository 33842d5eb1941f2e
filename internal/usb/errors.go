package usb

import "errors"

// Domain errors for the usb package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, usb.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrEnumerationUnavailable is returned when the enumeration root
	// cannot be read at all. The pass fails and is retried on the next
	// scheduled tick; per-entry failures never produce this error.
	ErrEnumerationUnavailable = errors.New("usb: enumeration root unavailable")

	// ErrDeviceNotFound is returned when a registry path does not match
	// any device in the current set.
	ErrDeviceNotFound = errors.New("usb: device not found")

	// ErrSleepUnavailable is returned when a toggle is requested for a
	// device whose power-management attribute is absent.
	ErrSleepUnavailable = errors.New("usb: sleep state unavailable for device")
)
