package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-net/caster/pkg/database"
	"github.com/caster-net/caster/pkg/queue"
)

type fakeHealthChecker struct {
	status *database.HealthStatus
	err    error
}

func (f *fakeHealthChecker) Health(_ context.Context) (*database.HealthStatus, error) {
	return f.status, f.err
}

type fakeWorkerReporter struct {
	health queue.WorkerHealth
}

func (f *fakeWorkerReporter) Health() queue.WorkerHealth {
	return f.health
}

func newHealthServer(db HealthChecker, worker WorkerReporter) *Server {
	return NewServer(nil, nil, nil, nil, nil, db, worker, testLogger())
}

func getHealthz(srv *Server) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthzHealthy(t *testing.T) {
	db := &fakeHealthChecker{status: &database.HealthStatus{Status: "healthy", OpenConnections: 2}}
	worker := &fakeWorkerReporter{health: queue.WorkerHealth{
		Status:           queue.WorkerStatusIdle,
		BatchesProcessed: 3,
		LastActivity:     time.Now().UTC(),
	}}
	rec := getHealthz(newHealthServer(db, worker))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Version)
	require.NotNil(t, resp.Database)
	assert.Equal(t, "healthy", resp.Database.Status)
	require.NotNil(t, resp.Worker)
	assert.Equal(t, queue.WorkerStatusIdle, resp.Worker.Status)
	assert.Equal(t, 3, resp.Worker.BatchesProcessed)
}

func TestHealthzUnhealthyDatabase(t *testing.T) {
	db := &fakeHealthChecker{
		status: &database.HealthStatus{Status: "unhealthy"},
		err:    errors.New("connection refused"),
	}
	rec := getHealthz(newHealthServer(db, nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
}

func TestHealthzOmitsWorkerWhenAbsent(t *testing.T) {
	db := &fakeHealthChecker{status: &database.HealthStatus{Status: "healthy"}}
	rec := getHealthz(newHealthServer(db, nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "worker")
}
