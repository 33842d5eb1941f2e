//go:build !windows

package elevate

import "context"

// unavailableLauncher rejects every launch. Non-Windows builds have no
// elevation boundary; the direct write path either works or fails outright.
type unavailableLauncher struct{}

// NewPlatformLauncher returns the launcher for this platform.
func NewPlatformLauncher(_ string) Launcher {
	return unavailableLauncher{}
}

func (unavailableLauncher) Launch(context.Context, string, string) error {
	return ErrElevationUnavailable
}
