package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/internal/testgen"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/downloads"
	"github.com/tankobon/tankobon/pkg/events"
	"github.com/tankobon/tankobon/pkg/models"
)

type testServer struct {
	e   *echo.Echo
	cfg *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testgen.NewTestDB(t)
	cfg := config.NewForTest()
	cfg.LibraryPath = t.TempDir()
	cfg.DownloadDir = t.TempDir()

	// The scheduler is never started, so enqueued jobs stay pending.
	scheduler := downloads.NewScheduler(db, downloads.OptionsFromConfig(cfg))
	t.Cleanup(scheduler.Shutdown)

	e, err := NewHandler(cfg, db, Dependencies{Scheduler: scheduler, Hub: events.NewHub()})
	require.NoError(t, err)

	return &testServer{e: e, cfg: cfg}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestDownloadsRoutes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/downloads", `{"catalog_id":"42","title":"Forty Two","priority":5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := models.DownloadJob{}
	decode(t, rec, &job)
	assert.Equal(t, "42", job.CatalogID)
	assert.Equal(t, models.DownloadStatusPending, job.Status)
	assert.Equal(t, 5, job.Priority)

	rec = ts.do(t, http.MethodPost, "/downloads", `{"catalog_id":"42"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate")

	rec = ts.do(t, http.MethodPost, "/downloads", `{"catalog_id":"not-a-number"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, http.MethodPost, "/downloads/"+strconv.Itoa(job.ID)+"/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_state_transition")

	rec = ts.do(t, http.MethodGet, "/downloads?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := struct {
		Downloads []*models.DownloadJob `json:"downloads"`
		Total     int                   `json:"total"`
		State     downloads.Snapshot    `json:"state"`
	}{}
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Total)
	assert.Nil(t, list.State.ActiveID)

	rec = ts.do(t, http.MethodDelete, "/downloads/"+strconv.Itoa(job.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/downloads/"+strconv.Itoa(job.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScansRoutes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/scans", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := models.Job{}
	decode(t, rec, &job)
	assert.Equal(t, models.JobTypeScan, job.Type)

	rec = ts.do(t, http.MethodPost, "/scans", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/scans", `{"path":"../outside"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, http.MethodGet, "/scans/"+strconv.Itoa(job.ID)+"/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	logs := struct {
		Logs []*models.JobLog `json:"logs"`
	}{}
	decode(t, rec, &logs)
	assert.Empty(t, logs.Logs)

	rec = ts.do(t, http.MethodGet, "/scans/999/logs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}
