package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/usbflow/usbpower-core/internal/audit"
	"github.com/usbflow/usbpower-core/internal/usb"
)

// ToggleRequest is the body of POST /api/v1/devices/toggle.
type ToggleRequest struct {
	// RegistryPath identifies the device by its Device Parameters key.
	RegistryPath string `json:"registry_path"`

	// DisableSleep true suppresses power saving, false restores it.
	DisableSleep bool `json:"disable_sleep"`
}

// handleListDevices returns the current device set.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.reconciler.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleToggle requests one flag write. The response blocks until the write
// resolves, elevation round trip included.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.RegistryPath == "" {
		writeBadRequest(w, "registry_path is required")
		return
	}

	report, err := s.reconciler.Toggle(r.Context(), req.RegistryPath, req.DisableSleep)
	if err != nil {
		switch {
		case errors.Is(err, usb.ErrDeviceNotFound):
			writeNotFound(w, "no such device: "+req.RegistryPath)
		case errors.Is(err, usb.ErrSleepUnavailable):
			writeError(w, http.StatusConflict, ErrCodeSleepUnavailable,
				"device does not expose the power management flag")
		default:
			s.logger.Error("toggle failed", "path", req.RegistryPath, "error", err)
			writeInternalError(w, "toggle failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleDisableAll writes the sleep-suppressing value to every device that
// exposes the flag, as one batch behind at most one elevation prompt.
func (s *Server) handleDisableAll(w http.ResponseWriter, r *http.Request) {
	report, err := s.reconciler.DisableAll(r.Context())
	if err != nil {
		s.logger.Error("disable-all failed", "error", err)
		writeInternalError(w, "disable-all failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleRefresh forces an enumeration pass.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.reconciler.Refresh(r.Context()); err != nil {
		if errors.Is(err, usb.ErrEnumerationUnavailable) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeInternal,
				"device enumeration unavailable")
			return
		}
		s.logger.Error("refresh failed", "error", err)
		writeInternalError(w, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.reconciler.Snapshot(),
	})
}

// defaultAuditLimit caps audit listings when no limit is given.
const defaultAuditLimit = 100

// handleListAudit returns recent write audit entries, optionally filtered
// by device via the path query parameter.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit trail not configured")
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var err error
	var entries []audit.Entry
	if path := r.URL.Query().Get("path"); path != "" {
		entries, err = s.audit.ListByPath(r.Context(), path, limit)
	} else {
		entries, err = s.audit.List(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("audit listing failed", "error", err)
		writeInternalError(w, "audit listing failed")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
