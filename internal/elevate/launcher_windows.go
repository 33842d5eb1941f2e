//go:build windows

package elevate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// WindowsLauncher starts the helper binary through the shell "runas" verb,
// which raises the UAC consent prompt. The spawned process does not inherit
// stdio, hence the file handshake.
type WindowsLauncher struct {
	// HelperPath is the absolute path to the elevated helper binary.
	HelperPath string
}

// NewPlatformLauncher returns the launcher for this platform.
func NewPlatformLauncher(helperPath string) Launcher {
	return &WindowsLauncher{HelperPath: helperPath}
}

// Launch spawns the helper elevated. Returns ErrElevationDeclined when the
// user dismisses the consent prompt.
func (l *WindowsLauncher) Launch(_ context.Context, requestPath, responsePath string) error {
	verb, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return fmt.Errorf("elevate: encode verb: %w", err)
	}
	exe, err := windows.UTF16PtrFromString(l.HelperPath)
	if err != nil {
		return fmt.Errorf("elevate: encode helper path: %w", err)
	}
	args, err := windows.UTF16PtrFromString(fmt.Sprintf(`-request %q -response %q`, requestPath, responsePath))
	if err != nil {
		return fmt.Errorf("elevate: encode arguments: %w", err)
	}
	dir, err := windows.UTF16PtrFromString(filepath.Dir(l.HelperPath))
	if err != nil {
		return fmt.Errorf("elevate: encode working dir: %w", err)
	}

	err = windows.ShellExecute(0, verb, exe, args, dir, windows.SW_HIDE)
	if err != nil {
		if errors.Is(err, windows.ERROR_CANCELLED) {
			return ErrElevationDeclined
		}
		return fmt.Errorf("elevate: launch helper: %w", err)
	}
	return nil
}
