package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/filehaven/filehaven/internal/api/middleware"
	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/audit"
	"github.com/filehaven/filehaven/pkg/s3config"
	"github.com/filehaven/filehaven/pkg/s3conn"
	s3store "github.com/filehaven/filehaven/pkg/storage/s3"
)

// TestFunc probes a profile for reachability. Injectable for tests.
type TestFunc func(ctx context.Context, profile s3config.Profile) error

// defaultTest opens a client from the profile and lists at most one key.
func defaultTest(ctx context.Context, profile s3config.Profile) error {
	client, err := s3store.NewClient(ctx, s3store.ClientConfig{
		Region:          profile.Region,
		Endpoint:        profile.Endpoint,
		AccessKeyID:     profile.AccessKeyID,
		SecretAccessKey: profile.SecretAccessKey,
	})
	if err != nil {
		return err
	}
	_, err = client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(profile.Bucket),
		Prefix:  aws.String(profile.Prefix),
		MaxKeys: aws.Int32(1),
	})
	return err
}

// S3ConfigsHandler serves the admin CRUD surface for S3 profiles.
// Secrets never appear in list or get responses.
type S3ConfigsHandler struct {
	profiles *s3config.Store
	conns    *s3conn.Registry
	test     TestFunc
	audit    *audit.Log
}

// NewS3ConfigsHandler creates an S3ConfigsHandler. A nil test falls back to a
// live ListObjectsV2 probe.
func NewS3ConfigsHandler(profiles *s3config.Store, conns *s3conn.Registry, test TestFunc, auditLog *audit.Log) *S3ConfigsHandler {
	if test == nil {
		test = defaultTest
	}
	return &S3ConfigsHandler{profiles: profiles, conns: conns, test: test, audit: auditLog}
}

// List handles GET /api/s3/configs.
func (h *S3ConfigsHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.profiles.List()
	if err != nil {
		internalError(w, r, err, "Failed to load S3 configurations.")
		return
	}
	if configs == nil {
		configs = []s3config.Profile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
}

// Get handles GET /api/s3/configs/{id}.
func (h *S3ConfigsHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.Get(chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile.Redacted())
}

// Create handles POST /api/s3/configs.
func (h *S3ConfigsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var profile s3config.Profile
	if !decodeJSONBody(w, r, &profile) {
		return
	}

	created, err := h.profiles.Create(profile)
	if err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			badRequest(w, "Missing required S3 configuration fields.")
			return
		}
		internalError(w, r, err, "Failed to save S3 configuration.")
		return
	}

	h.recordChange(r, "s3_config_created", created.ID, created.Name)
	writeJSON(w, http.StatusCreated, created.Redacted())
}

// Update handles PUT /api/s3/configs/{id}. An empty secret keeps the stored
// one.
func (h *S3ConfigsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var profile s3config.Profile
	if !decodeJSONBody(w, r, &profile) {
		return
	}

	updated, err := h.profiles.Update(chi.URLParam(r, "id"), profile)
	if err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			badRequest(w, "Missing required S3 configuration fields.")
			return
		}
		mapError(w, r, err)
		return
	}

	h.recordChange(r, "s3_config_updated", updated.ID, updated.Name)
	writeJSON(w, http.StatusOK, updated.Redacted())
}

// Delete handles DELETE /api/s3/configs/{id}. Active connections to the
// profile are severed for every session.
func (h *S3ConfigsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.profiles.Delete(id); err != nil {
		mapError(w, r, err)
		return
	}
	h.conns.OnProfileDeleted(id)

	h.recordChange(r, "s3_config_deleted", id, "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Test handles POST /api/s3/configs/{id}/test: a connectivity probe that
// never mutates the bucket.
func (h *S3ConfigsHandler) Test(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.Get(chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, r, err)
		return
	}

	if err := h.test(r.Context(), *profile); err != nil {
		logger.WarnCtx(r.Context(), "s3 connectivity probe failed",
			logger.KeyError, err)
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "Connection failed."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *S3ConfigsHandler) recordChange(r *http.Request, action, id, name string) {
	user := middleware.UserFromContext(r.Context())
	detail := map[string]string{"id": id}
	if name != "" {
		detail["name"] = name
	}
	h.audit.Record(audit.Event{IP: r.RemoteAddr, User: user.Username, Action: action, Detail: detail})
}
