package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-crawler/internal/crawler"
	"github.com/JakeFAU/adaptive-crawler/internal/job"
	"github.com/JakeFAU/adaptive-crawler/internal/throttle"
)

type fixedStatus struct {
	status crawler.Status
}

func (f fixedStatus) Status() crawler.Status {
	return f.status
}

func testServer() *Server {
	return NewServer(fixedStatus{status: crawler.Status{
		Job:     job.Job{ID: "job-1", Status: job.StatusRunning},
		Stage:   "rate_explore",
		Control: throttle.NewSessionControl(50, 10),
		Breaker: "closed",
	}}, Config{}, zap.NewNop())
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	testServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	testServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewServer(nil, Config{}, zap.NewNop()).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	testServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status crawler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "rate_explore", status.Stage)
	require.Equal(t, "closed", status.Breaker)
	require.Equal(t, 50.0, status.Control.Rate)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	testServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/job", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Job job.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "job-1", payload.Job.ID)
}
