package usb

// Registry attribute names read during enumeration.
const (
	AttrFriendlyName          = "FriendlyName"
	AttrBusReportedDeviceDesc = "BusReportedDeviceDesc"
	AttrDeviceDesc            = "DeviceDesc"
	AttrManufacturer          = "Mfg"
	AttrClass                 = "Class"
	AttrService               = "Service"

	// AttrEPMEnabled is the per-device power-management flag. A value of 0
	// suppresses selective suspend (sleep disabled); any non-zero value
	// allows it. Absence of the value means the device exposes no toggle.
	AttrEPMEnabled = "EnhancedPowerManagementEnabled"
)

// EPM flag values written by toggle operations.
const (
	EPMSleepDisabled uint32 = 0
	EPMSleepEnabled  uint32 = 1
)

// SleepState describes whether USB selective suspend is allowed for a device.
type SleepState string

// SleepState constants.
const (
	// SleepEnabled means power saving is allowed (flag present, non-zero).
	SleepEnabled SleepState = "enabled"

	// SleepDisabled means power saving is suppressed (flag present, zero).
	SleepDisabled SleepState = "disabled"

	// SleepUnavailable means the controlling attribute is absent; the
	// device offers no toggle.
	SleepUnavailable SleepState = "unavailable"
)

// WriteStatus is the lifecycle of the most recent write against a device.
type WriteStatus string

// WriteStatus constants.
const (
	WriteNone      WriteStatus = "none"
	WritePending   WriteStatus = "pending"
	WriteSucceeded WriteStatus = "succeeded"
	WriteFailed    WriteStatus = "failed"
)

// WriteOutcome is the transient result of the last write request against a
// device. It is cleared on the read-back following the one that surfaced it.
type WriteOutcome struct {
	Status WriteStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// Device is one discovered USB device configuration entry.
//
// RegistryPath is the identity key: immutable for the lifetime of the
// instance, session-scoped (the OS may reuse paths across reboots or
// physical device replacement). Enumeration produces fresh instances each
// pass; the reconciler merges them by path.
type Device struct {
	// RegistryPath is the Device Parameters key holding the EPM flag.
	RegistryPath string `json:"registry_path"`

	// ParentPath is the device instance key holding the display attributes.
	ParentPath string `json:"parent_path"`

	// FriendlyName is the best-available human label, resolved by priority:
	// FriendlyName, BusReportedDeviceDesc, DeviceDesc, then RegistryPath.
	FriendlyName string `json:"friendly_name"`

	// Manufacturer is optional; empty if the attribute is absent.
	Manufacturer string `json:"manufacturer,omitempty"`

	// DeviceType is resolved by priority: Class, Service, then a path
	// heuristic, then "Unknown".
	DeviceType string `json:"device_type"`

	// SleepState derives only from the last successful read of the EPM
	// attribute, never from an assumed write outcome.
	SleepState SleepState `json:"sleep_state"`

	// EPMValue is the raw flag value from the last read; nil when absent.
	EPMValue *uint32 `json:"epm_value,omitempty"`

	// LastWriteOutcome reports the most recent write against this device.
	LastWriteOutcome WriteOutcome `json:"last_write_outcome"`
}

// Toggleable reports whether the device accepts toggle requests.
// Devices without the EPM attribute must be rejected before any write path
// is invoked.
func (d *Device) Toggleable() bool {
	return d.SleepState != SleepUnavailable
}

// sleepStateOf derives SleepState from a raw flag read.
func sleepStateOf(value *uint32) SleepState {
	switch {
	case value == nil:
		return SleepUnavailable
	case *value == EPMSleepDisabled:
		return SleepDisabled
	default:
		return SleepEnabled
	}
}
