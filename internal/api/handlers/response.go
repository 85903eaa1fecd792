// Package handlers implements the HTTP handlers for the file management API.
//
// Handlers translate between the HTTP surface and the domain packages. Domain
// errors map 1:1 to the status taxonomy here; no internal error type ever
// reaches the wire. Sandbox escapes deliberately render as a generic
// "Path not found." so a caller cannot distinguish them from missing paths.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/s3config"
	"github.com/filehaven/filehaven/pkg/s3conn"
	"github.com/filehaven/filehaven/pkg/session"
	"github.com/filehaven/filehaven/pkg/storage"
	"github.com/filehaven/filehaven/pkg/vpath"
)

// errTooLarge marks payloads over the preview/edit caps. Internal to the
// handler layer; renders as 413.
var errTooLarge = errors.New("payload too large")

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, msg)
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, msg)
}

func internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logger.ErrorCtx(r.Context(), "request failed", logger.KeyError, err)
	writeError(w, http.StatusInternalServerError, msg)
}

// decodeJSONBody decodes the request body into v. Writes a 400 and returns
// false on malformed input.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "Invalid request body.")
		return false
	}
	return true
}

// mapError renders a domain error with its taxonomy status.
func mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, vpath.ErrEscape):
		// Generic message, no disclosure that the path resolved outside root.
		writeError(w, http.StatusBadRequest, "Path not found.")
	case errors.Is(err, vpath.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Path not found.")
	case errors.Is(err, storage.ErrParentMissing):
		writeError(w, http.StatusNotFound, "Original location no longer exists.")
	case errors.Is(err, vpath.ErrInvalidPath):
		badRequest(w, "Invalid path.")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "Destination already exists.")
	case errors.Is(err, storage.ErrIntoItself):
		badRequest(w, "Cannot move or copy an item into itself.")
	case errors.Is(err, storage.ErrNotDirectory):
		badRequest(w, "Not a directory.")
	case errors.Is(err, storage.ErrIsDirectory):
		badRequest(w, "Is a directory.")
	case errors.Is(err, errTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "File too large.")
	case errors.Is(err, session.ErrUnauthorized):
		unauthorized(w, "Unauthorized.")
	case errors.Is(err, s3config.ErrNotFound):
		writeError(w, http.StatusNotFound, "S3 configuration not found.")
	case errors.Is(err, s3conn.ErrNotConnected):
		badRequest(w, "Not connected to this S3 configuration.")
	case errors.Is(err, s3conn.ErrAtLimit):
		badRequest(w, "Too many S3 configurations connected. Disconnect one first.")
	default:
		internalError(w, r, err, "Internal server error.")
	}
}
