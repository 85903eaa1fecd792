package handlers

import (
	"net/http"

	"github.com/filehaven/filehaven/internal/api/middleware"
	"github.com/filehaven/filehaven/pkg/audit"
	"github.com/filehaven/filehaven/pkg/storage/local"
	"github.com/filehaven/filehaven/pkg/trash"
)

// TrashHandler serves the per-user trash listing and restore operations.
// Soft deletion itself lives on the files surface.
type TrashHandler struct {
	audit *audit.Log
}

// NewTrashHandler creates a TrashHandler.
func NewTrashHandler(auditLog *audit.Log) *TrashHandler {
	return &TrashHandler{audit: auditLog}
}

func (h *TrashHandler) store(r *http.Request) *trash.Store {
	user := middleware.UserFromContext(r.Context())
	return trash.NewStore(local.New(user.RootReal))
}

// List handles GET /api/trash: all trashed items, newest first.
func (h *TrashHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.store(r).List(r.Context())
	if err != nil {
		mapError(w, r, err)
		return
	}
	if records == nil {
		records = []local.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

// RestoreRequest is the body for POST /api/trash/restore.
type RestoreRequest struct {
	ID string `json:"id"`
}

// Restore handles POST /api/trash/restore: moves the item back to its
// original path and removes the trash entry.
func (h *TrashHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		badRequest(w, "Id is required.")
		return
	}

	rec, err := h.store(r).Consume(r.Context(), req.ID)
	if err != nil {
		mapError(w, r, err)
		return
	}

	user := middleware.UserFromContext(r.Context())
	h.audit.Record(audit.Event{
		IP: r.RemoteAddr, User: user.Username, Action: "trash_restore",
		Detail: map[string]string{"id": rec.ID, "path": rec.OriginalPath},
	})
	writeJSON(w, http.StatusOK, map[string]string{"path": rec.OriginalPath})
}
