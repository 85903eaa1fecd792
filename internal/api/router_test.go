package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filehaven/filehaven/pkg/audit"
	"github.com/filehaven/filehaven/pkg/config"
	"github.com/filehaven/filehaven/pkg/identity"
	"github.com/filehaven/filehaven/pkg/s3config"
	"github.com/filehaven/filehaven/pkg/s3conn"
	"github.com/filehaven/filehaven/pkg/session"
	s3store "github.com/filehaven/filehaven/pkg/storage/s3"
)

type testEnv struct {
	server *httptest.Server
	client *http.Client
	root   string
}

func newTestEnv(t *testing.T, sessionCfg session.Config) *testEnv {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	usersJSON := `[
		{"username":"alice","role":"read-write","root":"/alice","password":"pw-a"},
		{"username":"viewer","role":"read-only","root":"/alice","password":"pw-v"},
		{"username":"root","role":"admin","root":"/","password":"pw-r"}
	]`
	users, err := identity.Load(identity.LoadOptions{FileRoot: root, UsersJSON: usersJSON})
	require.NoError(t, err)

	if sessionCfg.Secret == "" {
		sessionCfg.Secret = "0123456789abcdef0123456789abcdef"
	}
	authority, err := session.New(sessionCfg, users)
	require.NoError(t, err)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Files.Root = root
	cfg.Files.SettingsPath = filepath.Join(t.TempDir(), "settings.json")
	cfg.Server.MetricsEnabled = false

	var auditLog *audit.Log // nil sink, auditing is off in tests

	// Tests never dial a real bucket; attaching hands back a stub adapter.
	stubDial := func(ctx context.Context, profile s3config.Profile) (*s3store.Adapter, error) {
		return s3store.New(nil, profile.Bucket, profile.Prefix), nil
	}

	router := NewRouter(Deps{
		Config:    cfg,
		Users:     users,
		Authority: authority,
		Profiles:  s3config.NewStore(cfg.Files.SettingsPath),
		Conns:     s3conn.NewRegistry(cfg.S3.MaxConnections, stubDial),
		Audit:     auditLog,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		server: srv,
		client: &http.Client{Jar: jar},
		root:   root,
	}
}

func (e *testEnv) login(t *testing.T, username, password string) {
	t.Helper()
	resp := e.postJSON(t, "/api/auth/login", map[string]string{
		"username": username, "password": password,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := e.client.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.client.Get(e.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func (e *testEnv) writeSandboxFile(t *testing.T, rel, content string) {
	t.Helper()
	full := filepath.Join(e.root, "alice", rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	env := newTestEnv(t, session.Config{})

	resp, err := http.Get(env.server.URL + "/api/files/list?path=/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginBadCredentialsUniform(t *testing.T) {
	env := newTestEnv(t, session.Config{})

	for _, creds := range []map[string]string{
		{"username": "nobody", "password": "x"},
		{"username": "alice", "password": "wrong"},
	} {
		resp := env.postJSON(t, "/api/auth/login", creds)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "Invalid credentials.", body["error"])
	}
}

func TestListAndTraversal(t *testing.T) {
	env := newTestEnv(t, session.Config{})
	env.writeSandboxFile(t, "notes.txt", "hello")
	env.login(t, "alice", "pw-a")

	resp := env.get(t, "/api/files/list?path=/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "/", body["path"])
	assert.Equal(t, "alice", body["user"])
	assert.Equal(t, float64(1), body["total"])

	// "/../etc" normalizes to "/etc", which does not exist in the sandbox.
	resp = env.get(t, "/api/files/list?path=/../etc")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, "Path not found.", body["error"])
}

func TestReadOnlyRoleGating(t *testing.T) {
	env := newTestEnv(t, session.Config{})
	env.writeSandboxFile(t, "doc.txt", "content")
	env.login(t, "viewer", "pw-v")

	// Reads work.
	resp := env.get(t, "/api/files/list?path=/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Writes do not.
	resp = env.postJSON(t, "/api/files/mkdir", map[string]string{"path": "/", "name": "sub"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = env.postJSON(t, "/api/files/delete", map[string]string{"path": "/doc.txt"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestAdminOnlyS3Configs(t *testing.T) {
	env := newTestEnv(t, session.Config{})
	env.login(t, "alice", "pw-a")

	resp := env.get(t, "/api/s3/configs/")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestTrashRoundTrip(t *testing.T) {
	env := newTestEnv(t, session.Config{})
	env.writeSandboxFile(t, "report.txt", "q3 numbers")
	env.login(t, "alice", "pw-a")

	resp := env.postJSON(t, "/api/files/delete", map[string]string{"path": "/report.txt"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	// Gone from the listing, present in the trash.
	resp = env.get(t, "/api/files/list?path=/")
	body = decodeBody(t, resp)
	assert.Equal(t, float64(0), body["total"])

	resp = env.get(t, "/api/trash/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].(map[string]any)["id"])

	// Restore puts it back and consumes the trash entry.
	resp = env.postJSON(t, "/api/trash/restore", map[string]string{"id": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, "/report.txt", body["path"])

	resp = env.get(t, "/api/files/list?path=/")
	body = decodeBody(t, resp)
	assert.Equal(t, float64(1), body["total"])

	resp = env.postJSON(t, "/api/trash/restore", map[string]string{"id": id})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestPreviewEditAndCaps(t *testing.T) {
	env := newTestEnv(t, session.Config{})
	env.writeSandboxFile(t, "small.txt", "tiny")
	env.writeSandboxFile(t, "photo.bin", "xx")
	env.login(t, "alice", "pw-a")

	resp := env.get(t, "/api/files/preview?path=/small.txt")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "tiny", body["content"])

	// Unsupported extension is refused before any read.
	resp = env.get(t, "/api/files/preview?path=/photo.bin")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Strictly over the preview cap is 413.
	big := make([]byte, 200*1024+1)
	env.writeSandboxFile(t, "big.txt", string(big))
	resp = env.get(t, "/api/files/preview?path=/big.txt")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp.Body.Close()

	// Edit round-trip.
	req, err := http.NewRequest(http.MethodPut, env.server.URL+"/api/files/edit",
		bytes.NewReader([]byte(`{"path":"/small.txt","content":"updated"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	putResp, err := env.client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, putResp.StatusCode)
	putResp.Body.Close()

	resp = env.get(t, "/api/files/edit?path=/small.txt")
	body = decodeBody(t, resp)
	assert.Equal(t, "updated", body["content"])
}

func TestUploadConflictAndOverwrite(t *testing.T) {
	env := newTestEnv(t, session.Config{})
	env.writeSandboxFile(t, "taken.txt", "original")
	env.login(t, "alice", "pw-a")

	upload := func(overwrite bool) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("path", "/"))
		require.NoError(t, mw.WriteField("overwrite", fmt.Sprintf("%t", overwrite)))
		fw, err := mw.CreateFormFile("files", "taken.txt")
		require.NoError(t, err)
		_, err = fw.Write([]byte("replacement"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		resp, err := env.client.Post(env.server.URL+"/api/files/upload", mw.FormDataContentType(), &buf)
		require.NoError(t, err)
		return resp
	}

	resp := upload(false)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = upload(true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	data, err := os.ReadFile(filepath.Join(env.root, "alice", "taken.txt"))
	require.NoError(t, err)
	assert.Equal(t, "replacement", string(data))
}

func TestSearchByNameAndContent(t *testing.T) {
	env := newTestEnv(t, session.Config{})
	env.writeSandboxFile(t, "docs/roadmap.md", "plans for the quarter")
	env.writeSandboxFile(t, "docs/other.md", "nothing relevant")
	env.writeSandboxFile(t, "binary.dat", "road\x00map")
	env.login(t, "alice", "pw-a")

	resp := env.get(t, "/api/files/search?path=/&query=roadmap")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	hit := results[0].(map[string]any)
	assert.Equal(t, "/docs/roadmap.md", hit["path"])
	assert.Equal(t, "name", hit["match"])

	resp = env.get(t, "/api/files/search?path=/&query=quarter")
	body = decodeBody(t, resp)
	results = body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "content", results[0].(map[string]any)["match"])
}

func TestArchiveDownload(t *testing.T) {
	env := newTestEnv(t, session.Config{})
	env.writeSandboxFile(t, "docs/a.txt", "alpha")
	env.writeSandboxFile(t, "docs/b.txt", "beta")
	env.login(t, "alice", "pw-a")

	resp := env.get(t, "/api/files/archive?path=/docs&format=zip")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="docs.zip"`)
	resp.Body.Close()

	resp = env.get(t, "/api/files/archive?path=/missing&format=zip")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSessionRotation(t *testing.T) {
	// Rotation window wider than the TTL: every authenticated response
	// carries a fresh cookie.
	env := newTestEnv(t, session.Config{
		TTL:          time.Hour,
		RotateWindow: 2 * time.Hour,
	})
	env.login(t, "alice", "pw-a")

	resp := env.get(t, "/api/files/list?path=/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var rotated bool
	for _, c := range resp.Cookies() {
		if c.Name == "filehaven_session" && c.Value != "" {
			rotated = true
		}
	}
	assert.True(t, rotated, "expected a refreshed session cookie")
}

func TestLogoutClearsSession(t *testing.T) {
	env := newTestEnv(t, session.Config{})
	env.login(t, "alice", "pw-a")

	resp := env.postJSON(t, "/api/auth/logout", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.get(t, "/api/files/list?path=/")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestS3ConfigCRUDAsAdmin(t *testing.T) {
	env := newTestEnv(t, session.Config{})
	env.login(t, "root", "pw-r")

	resp := env.postJSON(t, "/api/s3/configs/", map[string]any{
		"name": "minio", "region": "us-east-1", "endpoint": "http://localhost:9000",
		"accessKeyId": "AK", "secretAccessKey": "SK", "bucket": "files",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Empty(t, body["secretAccessKey"], "secret must be redacted")

	resp = env.get(t, "/api/s3/configs/")
	body = decodeBody(t, resp)
	assert.Len(t, body["configs"].([]any), 1)

	// Connecting to an unknown profile is a 404.
	resp = env.postJSON(t, "/api/s3/connect", map[string]string{"configId": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = env.get(t, "/api/s3/connections")
	body = decodeBody(t, resp)
	assert.Empty(t, body["connected"])
	assert.Equal(t, float64(5), body["maxConnections"])
}

func TestS3ConnectionSurvivesRotation(t *testing.T) {
	// Rotation window wider than the TTL: every authenticated response
	// reissues the cookie. The reissued token keeps the session nonce, so
	// attached S3 connections must keep resolving.
	env := newTestEnv(t, session.Config{
		TTL:          time.Hour,
		RotateWindow: 2 * time.Hour,
	})
	env.login(t, "root", "pw-r")

	resp := env.postJSON(t, "/api/s3/configs/", map[string]any{
		"name": "minio", "region": "us-east-1",
		"accessKeyId": "AK", "secretAccessKey": "SK", "bucket": "files",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := decodeBody(t, resp)["id"].(string)
	require.NotEmpty(t, id)

	resp = env.postJSON(t, "/api/s3/connect", map[string]string{"configId": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Len(t, body["connected"].([]any), 1)

	// Two follow-up requests, each behind a freshly rotated cookie.
	for i := 0; i < 2; i++ {
		resp = env.get(t, "/api/s3/connections")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body = decodeBody(t, resp)
		connected := body["connected"].([]any)
		require.Len(t, connected, 1, "connection lost after rotation %d", i+1)
		assert.Equal(t, id, connected[0])
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, session.Config{})

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(env.server.URL + "/health/ready")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
