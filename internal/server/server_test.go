package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/videoforge/videoforge/internal/auth"
	"github.com/videoforge/videoforge/internal/config"
	"github.com/videoforge/videoforge/internal/database"
	"github.com/videoforge/videoforge/internal/events"
	"github.com/videoforge/videoforge/internal/storage"
	"github.com/videoforge/videoforge/internal/transcoder"
)

// blockingEngine parks until its job context is cancelled, so tests can
// observe jobs in flight.
type blockingEngine struct{}

func (blockingEngine) Run(ctx context.Context, req transcoder.EngineRequest, onProgress func(percent float64)) error {
	onProgress(25)
	<-ctx.Done()
	return ctx.Err()
}

type apiFixture struct {
	router *gin.Engine
	store  transcoder.JobStore
	tokens map[string]string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	cfg := config.Default()
	dir := t.TempDir()
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	cfg.Storage.OutputDir = filepath.Join(dir, "outputs")

	paths := storage.NewPaths(cfg.Storage.UploadDir, cfg.Storage.OutputDir)
	require.NoError(t, paths.Ensure())

	log := hclog.NewNullLogger()
	bus := events.NewBus(log)
	store := transcoder.NewGormJobStore(db, log)
	coord := transcoder.NewCoordinator(store, blockingEngine{}, paths, bus, log, transcoder.DefaultCoordinatorConfig())
	service := transcoder.NewService(store, coord, transcoder.OwnerOrAdminAuthorizer{}, bus, log)

	authMgr := auth.NewManager(db, "test-secret", time.Hour, log)
	require.NoError(t, authMgr.SeedDemoUsers())

	router := SetupRouter(Deps{
		Config:  cfg,
		DB:      db,
		Service: service,
		Auth:    authMgr,
		Bus:     bus,
		Paths:   paths,
	})

	f := &apiFixture{router: router, store: store, tokens: make(map[string]string)}
	for user, password := range map[string]string{
		"admin":  "admin123",
		"user1":  "user123",
		"viewer": "viewer123",
	} {
		token, _, err := authMgr.Login(user, password)
		require.NoError(t, err)
		f.tokens[user] = token
	}
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokens[user])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) uploadVideo(t *testing.T, user string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="video"; filename="clip.mp4"`)
	header.Set("Content-Type", "video/mp4")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("fake video payload"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := f.do(t, http.MethodPost, "/api/videos/upload", user, &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Video database.Video `json:"video"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Video.ID)
	return resp.Video.ID
}

func (f *apiFixture) startTranscode(t *testing.T, user, videoID string) string {
	t.Helper()
	body := bytes.NewBufferString(`{"quality":"high","format":"mp4"}`)
	w := f.do(t, http.MethodPost, "/api/videos/"+videoID+"/transcode", user, body, "application/json")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Job struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"job"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Job.ID)
	assert.Equal(t, "pending", resp.Job.Status)
	return resp.Job.ID
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/health", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"OK"`)
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/jobs", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	body := bytes.NewBufferString(`{"username":"user1","password":"user123"}`)
	w := f.do(t, http.MethodPost, "/api/auth/login", "", body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "token")

	body = bytes.NewBufferString(`{"username":"user1","password":"wrong"}`)
	w = f.do(t, http.MethodPost, "/api/auth/login", "", body, "application/json")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadPermissions(t *testing.T) {
	f := newAPIFixture(t)

	// Viewers lack the upload permission.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())
	w := f.do(t, http.MethodPost, "/api/videos/upload", "viewer", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusForbidden, w.Code)

	f.uploadVideo(t, "user1")
}

func TestUploadRejectsNonVideo(t *testing.T) {
	f := newAPIFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="video"; filename="notes.txt"`)
	header.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("not a video"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := f.do(t, http.MethodPost, "/api/videos/upload", "user1", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranscodeLifecycleOverAPI(t *testing.T) {
	f := newAPIFixture(t)

	videoID := f.uploadVideo(t, "user1")
	jobID := f.startTranscode(t, "user1", videoID)

	// The owner can read the job.
	w := f.do(t, http.MethodGet, "/api/jobs/"+jobID, "user1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	// Another non-admin user cannot.
	w = f.do(t, http.MethodGet, "/api/jobs/"+jobID, "viewer", nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Admins can.
	w = f.do(t, http.MethodGet, "/api/jobs/"+jobID, "admin", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Cancel it and verify the terminal state is reported.
	w = f.do(t, http.MethodPost, "/api/jobs/"+jobID+"/cancel", "user1", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "cancelled")

	// A second cancel conflicts.
	w = f.do(t, http.MethodPost, "/api/jobs/"+jobID+"/cancel", "user1", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTranscodeUnknownVideo(t *testing.T) {
	f := newAPIFixture(t)

	body := bytes.NewBufferString(`{}`)
	w := f.do(t, http.MethodPost, "/api/videos/does-not-exist.mp4/transcode", "user1", body, "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobsListRequiresViewAll(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/jobs", "user1", nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/jobs", "admin", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs   []database.TranscodeJob `json:"jobs"`
		Total  int64                   `json:"total"`
		Limit  int                     `json:"limit"`
		Offset int                     `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, transcoder.DefaultListLimit, resp.Limit)
}

func TestJobsListPaginationAndFilter(t *testing.T) {
	f := newAPIFixture(t)

	videoID := f.uploadVideo(t, "user1")
	for i := 0; i < 3; i++ {
		f.startTranscode(t, "user1", videoID)
	}

	w := f.do(t, http.MethodGet, "/api/jobs?limit=2&offset=0", "admin", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs  []database.TranscodeJob `json:"jobs"`
		Total int64                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	assert.Equal(t, int64(3), resp.Total)

	w = f.do(t, http.MethodGet, "/api/jobs?status=bogus", "admin", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/jobs?limit=-1", "admin", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserJobsOwnership(t *testing.T) {
	f := newAPIFixture(t)

	videoID := f.uploadVideo(t, "user1")
	f.startTranscode(t, "user1", videoID)

	// Find user1's id through the job listing.
	jobs, _, err := f.store.ListAll(context.Background(), "", 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, jobs)
	userID := jobs[0].UserID

	w := f.do(t, http.MethodGet, "/api/jobs/user/"+userID, "user1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/jobs/user/"+userID, "viewer", nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/jobs/user/"+userID, "admin", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCancelUnknownJob(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs/nope/cancel", "user1", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "videoforge_")
}

func TestCORSPreflightWhenEnabled(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRegisterEndpointRoleElevation(t *testing.T) {
	f := newAPIFixture(t)

	// Anonymous callers cannot assign privileged roles.
	body := bytes.NewBufferString(`{"username":"eve","password":"passw0rd","role":"admin"}`)
	w := f.do(t, http.MethodPost, "/api/auth/register", "", body, "application/json")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Plain self-registration lands on the user role.
	body = bytes.NewBufferString(`{"username":"eve","password":"passw0rd"}`)
	w = f.do(t, http.MethodPost, "/api/auth/register", "", body, "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"role":"user"`)

	// Admins may assign roles.
	body = bytes.NewBufferString(`{"username":"ops","password":"passw0rd","role":"viewer"}`)
	w = f.do(t, http.MethodPost, "/api/auth/register", "admin", body, "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"role":"viewer"`)

	// Duplicate usernames are rejected.
	body = bytes.NewBufferString(`{"username":"eve","password":"passw1rd"}`)
	w = f.do(t, http.MethodPost, "/api/auth/register", "", body, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMyVideosEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	videoID := f.uploadVideo(t, "user1")
	jobID := f.startTranscode(t, "user1", videoID)

	w := f.do(t, http.MethodGet, "/api/videos/my-videos", "user1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), jobID)

	w = f.do(t, http.MethodGet, "/api/videos/my-videos", "viewer", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), jobID)
}

func TestDownloadOriginal(t *testing.T) {
	f := newAPIFixture(t)

	videoID := f.uploadVideo(t, "user1")

	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/videos/%s/download?type=original", videoID), "user1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fake video payload", w.Body.String())

	w = f.do(t, http.MethodGet, "/api/videos/missing.mp4/download", "user1", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
