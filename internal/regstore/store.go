package regstore

import "errors"

// Sentinel errors for the store boundary.
//
// Implementations translate their native error values into these so that
// callers can use errors.Is without knowing which backend is in use.
var (
	// ErrNotExist is returned when a key or value does not exist.
	ErrNotExist = errors.New("regstore: does not exist")

	// ErrAccessDenied is returned when the current process lacks the
	// privilege required for the operation.
	ErrAccessDenied = errors.New("regstore: access denied")
)

// Store is a hierarchical key/value store rooted at a fixed machine hive.
//
// Paths are backslash-separated and relative to the hive root. Lookups are
// case-insensitive, matching the semantics of the Windows registry.
//
// All methods must be safe for concurrent use.
type Store interface {
	// Subkeys returns the names of the direct child keys of path.
	// Returns ErrNotExist if the key is missing and ErrAccessDenied if the
	// key cannot be opened for reading.
	Subkeys(path string) ([]string, error)

	// GetString reads a string value from the key at path.
	GetString(path, name string) (string, error)

	// GetDWord reads a 32-bit integer value from the key at path.
	GetDWord(path, name string) (uint32, error)

	// SetDWord writes a 32-bit integer value to the key at path.
	// Returns ErrAccessDenied if the key's ACL rejects the write.
	SetDWord(path, name string, value uint32) error
}
