package usb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/usbflow/usbpower-core/internal/infrastructure/logging"
	"github.com/usbflow/usbpower-core/internal/regstore"
)

// deviceParametersKey is the subkey that carries per-device driver settings,
// including the power-management flag.
const deviceParametersKey = "Device Parameters"

// Scanner enumerates USB device entries from a registry-shaped store.
//
// A pass walks the configured root recursively, collects every key named
// "Device Parameters" (matched case-insensitively) and builds one Device per
// hit. Unreadable branches and missing attributes degrade per entry; only an
// unreadable root fails the whole pass.
type Scanner struct {
	store  regstore.Store
	root   string
	logger *logging.Logger
}

// NewScanner creates a Scanner over the given store rooted at root,
// typically `SYSTEM\CurrentControlSet\Enum\USB`.
func NewScanner(store regstore.Store, root string, logger *logging.Logger) *Scanner {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scanner{
		store:  store,
		root:   root,
		logger: logger.With("component", "scanner"),
	}
}

// Enumerate performs one enumeration pass and returns the discovered devices
// sorted by display name, then by registry path (both case-insensitive).
//
// Returns ErrEnumerationUnavailable if the root itself cannot be read. Every
// other failure is contained: a branch that cannot be listed is skipped, an
// attribute that cannot be read falls back per field.
func (s *Scanner) Enumerate(ctx context.Context) ([]Device, error) {
	paramPaths, err := s.collectParameterPaths(ctx)
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(paramPaths))
	for _, path := range paramPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		devices = append(devices, s.buildDevice(path))
	}

	sort.Slice(devices, func(i, j int) bool {
		ni, nj := strings.ToLower(devices[i].FriendlyName), strings.ToLower(devices[j].FriendlyName)
		if ni != nj {
			return ni < nj
		}
		return strings.ToLower(devices[i].RegistryPath) < strings.ToLower(devices[j].RegistryPath)
	})
	return devices, nil
}

// collectParameterPaths walks the tree under the root and returns the full
// paths of all Device Parameters keys.
func (s *Scanner) collectParameterPaths(ctx context.Context) ([]string, error) {
	children, err := s.store.Subkeys(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEnumerationUnavailable, s.root, err)
	}

	var paths []string
	var walk func(parent string, names []string) error
	walk = func(parent string, names []string) error {
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			full := parent + `\` + name
			if strings.EqualFold(name, deviceParametersKey) {
				paths = append(paths, full)
				continue
			}
			sub, err := s.store.Subkeys(full)
			if err != nil {
				// Unreadable branch, skip it and keep going
				s.logger.Debug("skipping unreadable key", "path", full, "error", err)
				continue
			}
			if err := walk(full, sub); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(s.root, children); err != nil {
		return nil, err
	}
	return paths, nil
}

// buildDevice reads the attributes for one Device Parameters path. Missing
// or unreadable attributes degrade field by field; this never fails.
func (s *Scanner) buildDevice(paramPath string) Device {
	parent := parentPath(paramPath)

	d := Device{
		RegistryPath: paramPath,
		ParentPath:   parent,
		FriendlyName: s.resolveName(parent, paramPath),
		DeviceType:   s.resolveType(parent, paramPath),
		LastWriteOutcome: WriteOutcome{
			Status: WriteNone,
		},
	}

	if mfg, err := s.store.GetString(parent, AttrManufacturer); err == nil {
		d.Manufacturer = cleanRegistryText(mfg)
	}

	if v, err := s.store.GetDWord(paramPath, AttrEPMEnabled); err == nil {
		val := v
		d.EPMValue = &val
	}
	d.SleepState = sleepStateOf(d.EPMValue)

	return d
}

// resolveName picks the display name by attribute priority, falling back to
// the registry path itself when nothing usable is present.
func (s *Scanner) resolveName(parent, paramPath string) string {
	for _, attr := range []string{AttrFriendlyName, AttrBusReportedDeviceDesc, AttrDeviceDesc} {
		raw, err := s.store.GetString(parent, attr)
		if err != nil {
			continue
		}
		if name := cleanRegistryText(raw); name != "" {
			return name
		}
	}
	return paramPath
}

// resolveType classifies the device: explicit class, then driving service,
// then a heuristic on the path, then "Unknown".
func (s *Scanner) resolveType(parent, paramPath string) string {
	if raw, err := s.store.GetString(parent, AttrClass); err == nil {
		if class := cleanRegistryText(raw); class != "" {
			return class
		}
	}
	if raw, err := s.store.GetString(parent, AttrService); err == nil {
		if svc := cleanRegistryText(raw); svc != "" {
			return svc
		}
	}
	upper := strings.ToUpper(paramPath)
	switch {
	case strings.Contains(upper, "HID"):
		return "HID"
	case strings.Contains(upper, "VID_"):
		return "USB"
	}
	return "Unknown"
}

// parentPath strips the last path segment.
func parentPath(path string) string {
	if idx := strings.LastIndex(path, `\`); idx > 0 {
		return path[:idx]
	}
	return path
}

// cleanRegistryText normalizes a raw registry string for display. Indirect
// resource strings store the fallback text after the first ";"; a non-empty
// tail is returned as is. Otherwise the full text survives, minus leading
// "@" markers.
func cleanRegistryText(raw string) string {
	text := strings.TrimSpace(raw)
	if idx := strings.Index(text, ";"); idx >= 0 {
		if tail := strings.TrimSpace(text[idx+1:]); tail != "" {
			return tail
		}
	}
	return strings.TrimSpace(strings.TrimLeft(text, "@"))
}

// Find returns the device with the given registry path from a previously
// enumerated set, matching case-insensitively like the registry itself.
func Find(devices []Device, registryPath string) (*Device, error) {
	for i := range devices {
		if strings.EqualFold(devices[i].RegistryPath, registryPath) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, registryPath)
}

// IsNotFound reports whether err represents a missing device.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDeviceNotFound)
}
