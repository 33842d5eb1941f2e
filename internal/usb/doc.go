// Package usb holds the device domain model and the enumeration scanner.
//
// A Device is one USB configuration entry discovered in the system store: a
// "Device Parameters" key plus the display attributes of its parent device
// instance key. The scanner walks the enumeration root, builds a fresh
// device set each pass and degrades gracefully when individual branches or
// attributes cannot be read.
//
// Sleep state derives solely from the EnhancedPowerManagementEnabled flag:
// present and zero means power saving is suppressed, present and non-zero
// means it is allowed, absent means the device offers no toggle.
package usb
