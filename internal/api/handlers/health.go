package handlers

import (
	"net/http"
	"os"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	fileRoot     string
	settingsPath string
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(fileRoot, settingsPath string) *HealthHandler {
	return &HealthHandler{fileRoot: fileRoot, settingsPath: settingsPath}
}

// Live handles GET /health.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready: the file root must be an accessible
// directory and the settings file location must be usable. A missing settings
// file is fine; it is created on first write.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"fileRoot": "ok", "settings": "ok"}
	healthy := true

	if info, err := os.Stat(h.fileRoot); err != nil || !info.IsDir() {
		checks["fileRoot"] = "unavailable"
		healthy = false
	}
	// A missing settings file is created on first write; only a stat failure
	// other than not-exist marks it unavailable.
	if _, err := os.Stat(h.settingsPath); err != nil && !os.IsNotExist(err) {
		checks["settings"] = "unavailable"
		healthy = false
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}
