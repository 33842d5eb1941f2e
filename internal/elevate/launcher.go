package elevate

import (
	"context"
	"errors"
)

// Launcher starts the elevated helper process. Launch returns once the
// spawn attempt resolves; it does not wait for the helper to finish, the
// broker polls the response file instead.
type Launcher interface {
	Launch(ctx context.Context, requestPath, responsePath string) error
}

// Launcher errors.
var (
	// ErrElevationDeclined means the user refused the elevation prompt.
	ErrElevationDeclined = errors.New("elevate: elevation declined")

	// ErrElevationUnavailable means this platform has no elevation
	// mechanism.
	ErrElevationUnavailable = errors.New("elevate: elevation unavailable on this platform")
)
