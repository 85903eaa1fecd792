package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/filehaven/filehaven/internal/api/middleware"
	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/archive"
	"github.com/filehaven/filehaven/pkg/audit"
	"github.com/filehaven/filehaven/pkg/s3config"
	"github.com/filehaven/filehaven/pkg/s3conn"
	s3store "github.com/filehaven/filehaven/pkg/storage/s3"
)

// S3Handler serves the session-scoped S3 connection lifecycle and the file
// operations against connected buckets. File routes mirror the local surface
// with an extra configId selecting the connection; deletes are hard deletes
// since the trash only exists in the local sandbox.
type S3Handler struct {
	profiles *s3config.Store
	conns    *s3conn.Registry
	files    *FilesHandler
	audit    *audit.Log
}

// NewS3Handler creates an S3Handler. The files handler is shared so the S3
// routes reuse the same body shapes and gating.
func NewS3Handler(profiles *s3config.Store, conns *s3conn.Registry, files *FilesHandler, auditLog *audit.Log) *S3Handler {
	return &S3Handler{profiles: profiles, conns: conns, files: files, audit: auditLog}
}

// ConnectRequest is the body for POST /api/s3/connect.
type ConnectRequest struct {
	ConfigID string `json:"configId"`
}

// Connect handles POST /api/s3/connect.
func (h *S3Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.ConfigID == "" {
		badRequest(w, "ConfigId is required.")
		return
	}

	profile, err := h.profiles.Get(req.ConfigID)
	if err != nil {
		mapError(w, r, err)
		return
	}

	sess := middleware.SessionFromContext(r.Context())
	if _, err := h.conns.Attach(r.Context(), sess.Nonce, *profile); err != nil {
		mapError(w, r, err)
		return
	}

	h.audit.Record(audit.Event{
		IP: r.RemoteAddr, User: sess.User.Username, Action: "s3_connect",
		Detail: map[string]string{"config_id": profile.ID, "name": profile.Name},
	})
	logger.InfoCtx(r.Context(), "s3 connection established",
		logger.KeyConfig, profile.ID)
	h.writeConnections(w, r)
}

// DisconnectRequest is the body for POST /api/s3/disconnect. An empty
// configId disconnects everything for the session.
type DisconnectRequest struct {
	ConfigID string `json:"configId"`
}

// Disconnect handles POST /api/s3/disconnect.
func (h *S3Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req DisconnectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	sess := middleware.SessionFromContext(r.Context())
	if req.ConfigID == "" {
		h.conns.DetachAll(sess.Nonce)
	} else if err := h.conns.Detach(sess.Nonce, req.ConfigID); err != nil {
		mapError(w, r, err)
		return
	}

	h.audit.Record(audit.Event{
		IP: r.RemoteAddr, User: sess.User.Username, Action: "s3_disconnect",
		Detail: map[string]string{"config_id": req.ConfigID},
	})
	h.writeConnections(w, r)
}

// Connections handles GET /api/s3/connections.
func (h *S3Handler) Connections(w http.ResponseWriter, r *http.Request) {
	h.writeConnections(w, r)
}

func (h *S3Handler) writeConnections(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	connected := h.conns.Connections(sess.Nonce)

	configs := make([]s3config.Profile, 0, len(connected))
	for _, id := range connected {
		if profile, err := h.profiles.Get(id); err == nil {
			configs = append(configs, profile.Redacted())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected":      connected,
		"configs":        configs,
		"maxConnections": h.conns.MaxConfigs(),
	})
}

// adapter resolves the connected adapter named by the request: the configId
// query parameter for reads, or a previously decoded body field for writes.
func (h *S3Handler) adapter(w http.ResponseWriter, r *http.Request, configID string) *s3store.Adapter {
	if configID == "" {
		configID = r.URL.Query().Get("configId")
	}
	if configID == "" {
		badRequest(w, "ConfigId is required.")
		return nil
	}

	sess := middleware.SessionFromContext(r.Context())
	ad, err := h.conns.Resolve(sess.Nonce, configID)
	if err != nil {
		mapError(w, r, err)
		return nil
	}
	return ad
}

// List handles GET /api/s3/files/list.
func (h *S3Handler) List(w http.ResponseWriter, r *http.Request) {
	ad := h.adapter(w, r, "")
	if ad == nil {
		return
	}
	user := middleware.UserFromContext(r.Context())

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	virtual := q.Get("path")
	if virtual == "" {
		virtual = "/"
	}

	resp, err := listEntries(r.Context(), ad, user, virtual, page, pageSize)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Download handles GET /api/s3/files/download. Objects are fetched whole;
// ranged streaming is not part of this surface.
func (h *S3Handler) Download(w http.ResponseWriter, r *http.Request) {
	ad := h.adapter(w, r, "")
	if ad == nil {
		return
	}

	virtual := r.URL.Query().Get("path")
	data, entry, err := readCapped(r.Context(), ad, virtual, int64(1)<<31)
	if err != nil {
		mapError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(entry.Name))
	w.Header().Set("Content-Disposition", archive.ContentDisposition(entry.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// Preview handles GET /api/s3/files/preview.
func (h *S3Handler) Preview(w http.ResponseWriter, r *http.Request) {
	ad := h.adapter(w, r, "")
	if ad == nil {
		return
	}
	h.files.servePreview(w, r, ad)
}

// Image handles GET /api/s3/files/image.
func (h *S3Handler) Image(w http.ResponseWriter, r *http.Request) {
	ad := h.adapter(w, r, "")
	if ad == nil {
		return
	}
	h.files.serveImage(w, r, ad)
}

// Upload handles POST /api/s3/files/upload. Multipart like the local route,
// with an extra configId field.
func (h *S3Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ad := h.adapter(w, r, "")
	if ad == nil {
		return
	}
	user := middleware.UserFromContext(r.Context())
	h.files.serveUpload(w, r, ad, user, "s3_upload", h.detail(r))
}

// EditGet handles GET /api/s3/files/edit.
func (h *S3Handler) EditGet(w http.ResponseWriter, r *http.Request) {
	ad := h.adapter(w, r, "")
	if ad == nil {
		return
	}
	h.files.serveEditGet(w, r, ad)
}

// S3EditRequest is the body for PUT /api/s3/files/edit.
type S3EditRequest struct {
	ConfigID string `json:"configId"`
	Path     string `json:"path"`
	Content  string `json:"content"`
}

// EditPut handles PUT /api/s3/files/edit.
func (h *S3Handler) EditPut(w http.ResponseWriter, r *http.Request) {
	var req S3EditRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	ad := h.adapter(w, r, req.ConfigID)
	if ad == nil {
		return
	}
	if req.Path == "" {
		badRequest(w, "Path is required.")
		return
	}
	if !isPreviewable(req.Path) {
		badRequest(w, "Editing is not supported for this file type.")
		return
	}
	if int64(len(req.Content)) > EditMaxBytes {
		mapError(w, r, errTooLarge)
		return
	}

	if err := ad.Write(r.Context(), req.Path, []byte(req.Content)); err != nil {
		mapError(w, r, err)
		return
	}

	user := middleware.UserFromContext(r.Context())
	detail := map[string]string{"config_id": req.ConfigID, "path": req.Path}
	h.audit.Record(audit.Event{IP: r.RemoteAddr, User: user.Username, Action: "s3_edit", Detail: detail})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// S3MkdirRequest is the body for POST /api/s3/files/mkdir.
type S3MkdirRequest struct {
	ConfigID string `json:"configId"`
	Path     string `json:"path"`
	Name     string `json:"name"`
}

// Mkdir handles POST /api/s3/files/mkdir: creates a zero-byte directory
// placeholder object.
func (h *S3Handler) Mkdir(w http.ResponseWriter, r *http.Request) {
	var req S3MkdirRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	ad := h.adapter(w, r, req.ConfigID)
	if ad == nil {
		return
	}
	if req.Path == "" || req.Name == "" {
		badRequest(w, "Path and name are required.")
		return
	}

	target, err := mkdirIn(r.Context(), ad, req.Path, req.Name)
	if err != nil {
		mapError(w, r, err)
		return
	}

	user := middleware.UserFromContext(r.Context())
	h.audit.Record(audit.Event{
		IP: r.RemoteAddr, User: user.Username, Action: "s3_mkdir",
		Detail: map[string]string{"config_id": req.ConfigID, "path": target},
	})
	writeJSON(w, http.StatusOK, map[string]string{"path": target})
}

// S3TransferRequest is the body for S3 move and copy.
type S3TransferRequest struct {
	ConfigID string `json:"configId"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// Move handles POST /api/s3/files/move.
func (h *S3Handler) Move(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "s3_move", func(ad *s3store.Adapter) transferOp { return ad.Move })
}

// Copy handles POST /api/s3/files/copy.
func (h *S3Handler) Copy(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "s3_copy", func(ad *s3store.Adapter) transferOp { return ad.Copy })
}

type transferOp func(ctx context.Context, from, to string) error

func (h *S3Handler) transfer(w http.ResponseWriter, r *http.Request, action string, pick func(*s3store.Adapter) transferOp) {
	var req S3TransferRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	ad := h.adapter(w, r, req.ConfigID)
	if ad == nil {
		return
	}
	if req.From == "" || req.To == "" {
		badRequest(w, "Both from and to are required.")
		return
	}

	if err := pick(ad)(r.Context(), req.From, req.To); err != nil {
		mapError(w, r, err)
		return
	}

	user := middleware.UserFromContext(r.Context())
	h.audit.Record(audit.Event{
		IP: r.RemoteAddr, User: user.Username, Action: action,
		Detail: map[string]string{"config_id": req.ConfigID, "from": req.From, "to": req.To},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// S3DeleteRequest is the body for POST /api/s3/files/delete.
type S3DeleteRequest struct {
	ConfigID string `json:"configId"`
	Path     string `json:"path"`
}

// Delete handles POST /api/s3/files/delete. Unlike the local surface this is
// a hard delete; objects do not pass through the trash.
func (h *S3Handler) Delete(w http.ResponseWriter, r *http.Request) {
	var req S3DeleteRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	ad := h.adapter(w, r, req.ConfigID)
	if ad == nil {
		return
	}
	if req.Path == "" {
		badRequest(w, "Path is required.")
		return
	}

	if err := ad.Delete(r.Context(), req.Path); err != nil {
		mapError(w, r, err)
		return
	}

	user := middleware.UserFromContext(r.Context())
	h.audit.Record(audit.Event{
		IP: r.RemoteAddr, User: user.Username, Action: "s3_delete",
		Detail: map[string]string{"config_id": req.ConfigID, "path": req.Path},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *S3Handler) detail(r *http.Request) map[string]string {
	return map[string]string{"config_id": r.URL.Query().Get("configId")}
}
