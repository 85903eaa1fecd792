package handlers

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/filehaven/filehaven/internal/api/middleware"
	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/archive"
	"github.com/filehaven/filehaven/pkg/audit"
	"github.com/filehaven/filehaven/pkg/identity"
	"github.com/filehaven/filehaven/pkg/storage"
	"github.com/filehaven/filehaven/pkg/storage/local"
	"github.com/filehaven/filehaven/pkg/vpath"
)

// FilesConfig carries the tunable limits for the local file surface.
type FilesConfig struct {
	SearchMaxBytes    int64
	ArchiveLargeBytes int64
}

// FilesHandler serves the local sandbox file operations.
type FilesHandler struct {
	cfg   FilesConfig
	audit *audit.Log
}

// NewFilesHandler creates a FilesHandler.
func NewFilesHandler(cfg FilesConfig, auditLog *audit.Log) *FilesHandler {
	return &FilesHandler{cfg: cfg, audit: auditLog}
}

// adapter builds the per-request adapter scoped to the session's sandbox.
func (h *FilesHandler) adapter(r *http.Request) (*local.Adapter, *identity.User) {
	user := middleware.UserFromContext(r.Context())
	return local.New(user.RootReal), user
}

// List handles GET /api/files/list.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	ad, user := h.adapter(r)

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

// Download handles GET /api/files/download. Streams the file with a
// Content-Disposition carrying the RFC 5987 form for non-ASCII names.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	ad, _ := h.adapter(r)

	res, err := ad.Resolve(r.URL.Query().Get("path"))
	if err != nil {
		mapError(w, r, err)
		return
	}

	info, err := os.Stat(res.HostPath)
	if err != nil {
		mapError(w, r, err)
		return
	}
	if info.IsDir() {
		mapError(w, r, storage.ErrIsDirectory)
		return
	}

	f, err := os.Open(res.HostPath)
	if err != nil {
		mapError(w, r, err)
		return
	}
	defer f.Close()

	name := path.Base(res.Normalized)
	w.Header().Set("Content-Type", contentTypeFor(name))
	w.Header().Set("Content-Disposition", archive.ContentDisposition(name))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if _, err := io.Copy(w, f); err != nil {
		logger.WarnCtx(r.Context(), "download stream interrupted",
			logger.KeyPath, res.Normalized, logger.KeyError, err)
	}
}

// Preview handles GET /api/files/preview. Text formats only, capped size.
func (h *FilesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	ad, _ := h.adapter(r)
	h.servePreview(w, r, ad)
}

func (h *FilesHandler) servePreview(w http.ResponseWriter, r *http.Request, ad storage.Adapter) {
	virtual := r.URL.Query().Get("path")
	if !isPreviewable(virtual) {
		badRequest(w, "Preview is not supported for this file type.")
		return
	}

	data, entry, err := readCapped(r.Context(), ad, virtual, PreviewMaxBytes)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content": string(data),
		"size":    entry.Size,
		"name":    entry.Name,
	})
}

// Image handles GET /api/files/image. Image extensions only, streamed raw.
func (h *FilesHandler) Image(w http.ResponseWriter, r *http.Request) {
	ad, _ := h.adapter(r)
	h.serveImage(w, r, ad)
}

func (h *FilesHandler) serveImage(w http.ResponseWriter, r *http.Request, ad storage.Adapter) {
	virtual := r.URL.Query().Get("path")
	if !isImage(virtual) {
		badRequest(w, "Not an image.")
		return
	}

	data, entry, err := readCapped(r.Context(), ad, virtual, int64(1)<<31)
	if err != nil {
		mapError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(entry.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// EditGet handles GET /api/files/edit. Editable formats under the edit cap.
func (h *FilesHandler) EditGet(w http.ResponseWriter, r *http.Request) {
	ad, _ := h.adapter(r)
	h.serveEditGet(w, r, ad)
}

func (h *FilesHandler) serveEditGet(w http.ResponseWriter, r *http.Request, ad storage.Adapter) {
	virtual := r.URL.Query().Get("path")
	if !isPreviewable(virtual) {
		badRequest(w, "Editing is not supported for this file type.")
		return
	}

	data, _, err := readCapped(r.Context(), ad, virtual, EditMaxBytes)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": string(data)})
}

// EditRequest is the body for PUT /api/files/edit.
type EditRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// EditPut handles PUT /api/files/edit.
func (h *FilesHandler) EditPut(w http.ResponseWriter, r *http.Request) {
	ad, user := h.adapter(r)
	h.serveEditPut(w, r, ad, user, "file_edit", nil)
}

func (h *FilesHandler) serveEditPut(w http.ResponseWriter, r *http.Request, ad storage.Adapter, user *identity.User, action string, detail map[string]string) {
	var req EditRequest
	if !decodeJSONBody(w, r, &req) {
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

	if detail == nil {
		detail = map[string]string{}
	}
	detail["path"] = req.Path
	h.audit.Record(audit.Event{IP: r.RemoteAddr, User: user.Username, Action: action, Detail: detail})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Upload handles POST /api/files/upload: streaming multipart with fields
// "path", optional "overwrite", and one or more "files" parts.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ad, user := h.adapter(r)
	h.serveUpload(w, r, ad, user, "file_upload", nil)
}

func (h *FilesHandler) serveUpload(w http.ResponseWriter, r *http.Request, ad storage.Adapter, user *identity.User, action string, detail map[string]string) {
	mr, err := r.MultipartReader()
	if err != nil {
		badRequest(w, "Invalid multipart request.")
		return
	}

	dir := "/"
	overwrite := false
	var uploaded []string

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			badRequest(w, "Invalid multipart request.")
			return
		}

		switch part.FormName() {
		case "path":
			value, err := io.ReadAll(io.LimitReader(part, 4096))
			if err != nil {
				badRequest(w, "Invalid multipart request.")
				return
			}
			dir = strings.TrimSpace(string(value))
			if dir == "" {
				dir = "/"
			}
		case "overwrite":
			value, _ := io.ReadAll(io.LimitReader(part, 16))
			overwrite = strings.TrimSpace(string(value)) == "true"
		case "files":
			name := path.Base(part.FileName())
			if err := vpath.CheckLeaf(name); err != nil {
				mapError(w, r, err)
				return
			}
			target := path.Join(dir, name)

			if !overwrite {
				exists, err := ad.Exists(r.Context(), target)
				if err != nil {
					mapError(w, r, err)
					return
				}
				if exists {
					mapError(w, r, storage.ErrConflict)
					return
				}
			}

			data, err := io.ReadAll(part)
			if err != nil {
				internalError(w, r, err, "Upload failed.")
				return
			}
			if err := ad.Write(r.Context(), target, data); err != nil {
				mapError(w, r, err)
				return
			}
			uploaded = append(uploaded, target)
		}
		part.Close()
	}

	if len(uploaded) == 0 {
		badRequest(w, "No files in upload.")
		return
	}

	if detail == nil {
		detail = map[string]string{}
	}
	detail["path"] = dir
	detail["count"] = strconv.Itoa(len(uploaded))
	h.audit.Record(audit.Event{IP: r.RemoteAddr, User: user.Username, Action: action, Detail: detail})
	writeJSON(w, http.StatusOK, map[string]any{"uploaded": uploaded})
}

// MkdirRequest is the body for POST /api/files/mkdir.
type MkdirRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Mkdir handles POST /api/files/mkdir.
func (h *FilesHandler) Mkdir(w http.ResponseWriter, r *http.Request) {
	ad, user := h.adapter(r)
	h.serveMkdir(w, r, ad, user, "file_mkdir", nil)
}

func (h *FilesHandler) serveMkdir(w http.ResponseWriter, r *http.Request, ad storage.Adapter, user *identity.User, action string, detail map[string]string) {
	var req MkdirRequest
	if !decodeJSONBody(w, r, &req) {
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

	if detail == nil {
		detail = map[string]string{}
	}
	detail["path"] = target
	h.audit.Record(audit.Event{IP: r.RemoteAddr, User: user.Username, Action: action, Detail: detail})
	writeJSON(w, http.StatusOK, map[string]string{"path": target})
}

// TransferRequest is the body for move and copy.
type TransferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Move handles POST /api/files/move. Covers both rename and relocation.
func (h *FilesHandler) Move(w http.ResponseWriter, r *http.Request) {
	ad, user := h.adapter(r)
	h.serveTransfer(w, r, user, "file_move", ad.Move, nil)
}

// Copy handles POST /api/files/copy.
func (h *FilesHandler) Copy(w http.ResponseWriter, r *http.Request) {
	ad, user := h.adapter(r)
	h.serveTransfer(w, r, user, "file_copy", ad.Copy, nil)
}

func (h *FilesHandler) serveTransfer(w http.ResponseWriter, r *http.Request, user *identity.User, action string, op func(ctx context.Context, from, to string) error, detail map[string]string) {
	var req TransferRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" {
		badRequest(w, "Both from and to are required.")
		return
	}

	if err := op(r.Context(), req.From, req.To); err != nil {
		mapError(w, r, err)
		return
	}

	if detail == nil {
		detail = map[string]string{}
	}
	detail["from"] = req.From
	detail["to"] = req.To
	h.audit.Record(audit.Event{IP: r.RemoteAddr, User: user.Username, Action: action, Detail: detail})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteRequest is the body for POST /api/files/delete.
type DeleteRequest struct {
	Path string `json:"path"`
}

// Delete handles POST /api/files/delete: soft delete into the trash.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ad, user := h.adapter(r)

	var req DeleteRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		badRequest(w, "Path is required.")
		return
	}

	rec, err := ad.Trash(r.Context(), req.Path)
	if err != nil {
		mapError(w, r, err)
		return
	}

	h.audit.Record(audit.Event{
		IP: r.RemoteAddr, User: user.Username, Action: "file_trash",
		Detail: map[string]string{"path": req.Path, "id": rec.ID},
	})
	writeJSON(w, http.StatusOK, map[string]string{"id": rec.ID})
}

// searchResult is one search hit.
type searchResult struct {
	Path  string            `json:"path"`
	Name  string            `json:"name"`
	Type  storage.EntryType `json:"type"`
	Size  int64             `json:"size"`
	MTime int64             `json:"mtime"`
	Match string            `json:"match"` // name or content
}

// Search handles GET /api/files/search: case-insensitive substring match on
// names, and on content for text files within the scan window. Files with a
// NUL byte in the window are treated as binary and skipped for content.
func (h *FilesHandler) Search(w http.ResponseWriter, r *http.Request) {
	ad, _ := h.adapter(r)

	query := r.URL.Query().Get("query")
	if query == "" {
		badRequest(w, "Query is required.")
		return
	}
	base := r.URL.Query().Get("path")
	if base == "" {
		base = "/"
	}

	res, err := ad.Resolve(base)
	if err != nil {
		mapError(w, r, err)
		return
	}

	needle := strings.ToLower(query)
	results := []searchResult{}

	walkErr := filepath.WalkDir(res.HostPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if err := r.Context().Err(); err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(ad.Root(), p)
		if err != nil || rel == "." {
			return nil
		}
		virtual := "/" + filepath.ToSlash(rel)
		if vpath.IsTrashPath(virtual) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == res.HostPath {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		entry := entryResult(virtual, d.Name(), info.Size(), info.ModTime().UnixMilli(), d.IsDir())

		if strings.Contains(strings.ToLower(d.Name()), needle) {
			entry.Match = "name"
			results = append(results, entry)
			return nil
		}
		if !d.IsDir() {
			if matchContent(p, needle, h.cfg.SearchMaxBytes) {
				entry.Match = "content"
				results = append(results, entry)
			}
		}
		return nil
	})
	if walkErr != nil {
		mapError(w, r, walkErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"path":    res.Normalized,
		"results": results,
	})
}

func entryResult(virtual, name string, size, mtime int64, isDir bool) searchResult {
	t := storage.TypeFile
	if isDir {
		t = storage.TypeDir
		size = 0
	}
	return searchResult{Path: virtual, Name: name, Type: t, Size: size, MTime: mtime}
}

// matchContent scans up to maxBytes of the file for the needle. A NUL byte
// in the window marks the file binary and excludes it.
func matchContent(hostPath, needle string, maxBytes int64) bool {
	f, err := os.Open(hostPath)
	if err != nil {
		return false
	}
	defer f.Close()

	window, err := io.ReadAll(io.LimitReader(f, maxBytes))
	if err != nil {
		return false
	}
	if strings.IndexByte(string(window), 0) >= 0 {
		return false
	}
	return strings.Contains(strings.ToLower(string(window)), needle)
}

// Archive handles GET /api/files/archive: streams a zip or tar.gz of the
// requested paths. Paths are resolved before headers go out so resolution
// failures still produce proper statuses.
func (h *FilesHandler) Archive(w http.ResponseWriter, r *http.Request) {
	ad, user := h.adapter(r)

	paths := r.URL.Query()["path"]
	if len(paths) == 0 {
		badRequest(w, "At least one path is required.")
		return
	}
	format, err := archive.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		badRequest(w, "Unsupported archive format.")
		return
	}
	for _, p := range paths {
		if _, err := ad.Resolve(p); err != nil {
			mapError(w, r, err)
			return
		}
	}

	filename := archive.Filename(paths, format)
	contentType := "application/zip"
	if format == archive.FormatTarGz {
		contentType = "application/gzip"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", archive.ContentDisposition(filename))

	streamer := archive.NewStreamer(ad, h.cfg.ArchiveLargeBytes)
	if err := streamer.Stream(r.Context(), w, format, paths); err != nil {
		// Headers are gone; the truncated stream is the only signal.
		logger.WarnCtx(r.Context(), "archive stream failed", logger.KeyError, err)
		return
	}

	h.audit.Record(audit.Event{
		IP: r.RemoteAddr, User: user.Username, Action: "archive_download",
		Detail: map[string]string{"format": string(format), "count": strconv.Itoa(len(paths))},
	})
}

// contentTypeFor maps a filename to a MIME type, defaulting to octet-stream.
func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
