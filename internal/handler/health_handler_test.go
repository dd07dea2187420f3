package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"printcalc/internal/domain"
	"printcalc/internal/service/analyzer"
	"printcalc/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackendHealth struct {
	statuses []analyzer.BackendStatus
}

func (s stubBackendHealth) IsAvailable(mode domain.BackendMode) bool {
	for _, st := range s.statuses {
		if st.Mode == mode {
			return st.Available
		}
	}
	return false
}

func (s stubBackendHealth) Snapshot() []analyzer.BackendStatus {
	return s.statuses
}

type stubDeps map[string]error

func (s stubDeps) DependencyHealth(ctx context.Context) map[string]error {
	return s
}

func TestHealthHandler_Check(t *testing.T) {
	checked := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	allUp := stubBackendHealth{statuses: []analyzer.BackendStatus{
		{Mode: domain.ModeLocal, Available: true, LastChecked: checked},
		{Mode: domain.ModeRemote, Available: true, LastChecked: checked},
	}}
	remoteDown := stubBackendHealth{statuses: []analyzer.BackendStatus{
		{Mode: domain.ModeLocal, Available: true, LastChecked: checked},
		{Mode: domain.ModeRemote, Available: false, LastChecked: checked, Error: "connection refused"},
	}}

	tests := []struct {
		name       string
		backends   stubBackendHealth
		deps       stubDeps
		wantStatus int
		wantState  string
	}{
		{name: "everything up", backends: allUp, deps: stubDeps{"postgres": nil}, wantStatus: http.StatusOK, wantState: "healthy"},
		{name: "backend down degrades", backends: remoteDown, deps: stubDeps{"postgres": nil}, wantStatus: http.StatusOK, wantState: "degraded"},
		{name: "store down is unhealthy", backends: allUp, deps: stubDeps{"redis": errors.New("connection refused")}, wantStatus: http.StatusServiceUnavailable, wantState: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.backends, tt.deps, logger.NewNop())
			rec := httptest.NewRecorder()
			h.Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantState, resp.Status)
			assert.Equal(t, "printcalc", resp.Service)
			assert.Len(t, resp.Backends, 2)
			assert.Len(t, resp.Dependencies, len(tt.deps))
		})
	}
}

func TestHealthHandler_NoCollaborators(t *testing.T) {
	h := NewHealthHandler(nil, nil, logger.NewNop())
	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Empty(t, resp.Backends)
}
