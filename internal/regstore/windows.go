//go:build windows

package regstore

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

// WindowsStore implements Store against HKEY_LOCAL_MACHINE.
type WindowsStore struct{}

// NewPlatform returns the store backed by the real registry.
func NewPlatform() Store {
	return NewWindows()
}

// NewWindows creates a Store backed by the local machine registry hive.
func NewWindows() *WindowsStore {
	return &WindowsStore{}
}

// Subkeys returns the names of the direct child keys of path.
func (s *WindowsStore) Subkeys(path string) ([]string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.READ)
	if err != nil {
		return nil, mapError(err)
	}
	defer k.Close()

	names, err := k.ReadSubKeyNames(-1)
	if err != nil {
		return nil, mapError(err)
	}
	return names, nil
}

// GetString reads a string value from the key at path.
func (s *WindowsStore) GetString(path, name string) (string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE)
	if err != nil {
		return "", mapError(err)
	}
	defer k.Close()

	value, _, err := k.GetStringValue(name)
	if err != nil {
		return "", mapError(err)
	}
	return value, nil
}

// GetDWord reads a 32-bit integer value from the key at path.
func (s *WindowsStore) GetDWord(path, name string) (uint32, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE)
	if err != nil {
		return 0, mapError(err)
	}
	defer k.Close()

	value, _, err := k.GetIntegerValue(name)
	if err != nil {
		return 0, mapError(err)
	}
	if value > 0xFFFFFFFF {
		return 0, fmt.Errorf("regstore: value %s at %s exceeds 32 bits", name, path)
	}
	return uint32(value), nil
}

// SetDWord writes a 32-bit integer value to the key at path.
func (s *WindowsStore) SetDWord(path, name string, value uint32) error {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.SET_VALUE|registry.QUERY_VALUE)
	if err != nil {
		return mapError(err)
	}
	defer k.Close()

	if err := k.SetDWordValue(name, value); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError translates registry/syscall errors into the package sentinels.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrNotExist):
		return ErrNotExist
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return ErrAccessDenied
	default:
		return err
	}
}
