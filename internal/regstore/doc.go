// Package regstore abstracts the hierarchical key/value store that holds
// USB device configuration.
//
// On Windows this is the registry under HKEY_LOCAL_MACHINE, accessed via
// golang.org/x/sys/windows/registry. Everywhere else (and in tests) an
// in-memory implementation stands in, including fault-injection hooks for
// denied keys and writes that report success without taking effect.
//
// Callers depend only on the Store interface and the two sentinel errors,
// ErrNotExist and ErrAccessDenied.
package regstore
