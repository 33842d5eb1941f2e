//go:build !windows

package regstore

// NewPlatform returns an empty in-memory store. Non-Windows hosts have no
// registry; this keeps the daemon runnable for development and testing.
func NewPlatform() Store {
	return NewMemStore()
}
