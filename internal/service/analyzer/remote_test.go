package analyzer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"printcalc/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() domain.AnalysisRequest {
	return domain.AnalysisRequest{
		FileName:   "thesis.pdf",
		Data:       []byte("%PDF-1.4 test"),
		Thresholds: domain.Thresholds{Color: 20, Photo: 30.5},
	}
}

func TestRemoteBackend_Analyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, AnalyzePath, r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("color_threshold"))
		assert.Equal(t, "30.5", r.URL.Query().Get("photo_threshold"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "20", r.FormValue("color_threshold"))
		assert.Equal(t, "30.5", r.FormValue("photo_threshold"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "thesis.pdf", header.Filename)
		assert.Equal(t, "%PDF-1.4 test", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_pages":4,"bw_pages":3,"color_pages":1,"photo_pages":0}`))
	}))
	defer server.Close()

	backend := NewRemoteBackend(server.URL+"/", time.Second, server.Client())
	assert.Equal(t, domain.ModeRemote, backend.Mode())

	got, err := backend.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.PageBreakdown{TotalPages: 4, BWPages: 3, ColorPages: 1}, got)
}

func TestRemoteBackend_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		delay    time.Duration
		wantKind Kind
	}{
		{name: "server error is retryable", status: http.StatusBadGateway, body: "upstream down", wantKind: KindNetwork},
		{name: "client error is a bad response", status: http.StatusUnprocessableEntity, body: `{"detail":"bad file"}`, wantKind: KindBadResponse},
		{name: "missing fields", status: http.StatusOK, body: `{"bw_pages":1}`, wantKind: KindBadResponse},
		{name: "inconsistent counts", status: http.StatusOK, body: `{"total_pages":9,"bw_pages":1,"color_pages":1,"photo_pages":1}`, wantKind: KindBadResponse},
		{name: "malformed json", status: http.StatusOK, body: `<html>`, wantKind: KindBadResponse},
		{name: "slow server times out", status: http.StatusOK, body: `{}`, delay: 300 * time.Millisecond, wantKind: KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.delay > 0 {
					select {
					case <-time.After(tt.delay):
					case <-r.Context().Done():
						return
					}
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			backend := NewRemoteBackend(server.URL, 50*time.Millisecond, server.Client())
			_, err := backend.Analyze(context.Background(), testRequest())
			require.Error(t, err)

			kind, ok := KindOf(err)
			require.True(t, ok, "unexpected error %v", err)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestRemoteBackend_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	backend := NewRemoteBackend(url, time.Second, nil)
	_, err := backend.Analyze(context.Background(), testRequest())
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNetwork, kind)
	assert.Error(t, backend.Probe(context.Background()))
}

func TestRemoteBackend_CallerCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	backend := NewRemoteBackend(server.URL, 5*time.Second, server.Client())
	_, err := backend.Analyze(ctx, testRequest())
	require.ErrorIs(t, err, context.Canceled)
	_, isBackendErr := KindOf(err)
	assert.False(t, isBackendErr)
}

func TestRemoteBackend_Probe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, HealthPath, r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	backend := NewRemoteBackend(server.URL, time.Second, server.Client())
	assert.NoError(t, backend.Probe(context.Background()))

	healthy.Store(false)
	assert.Error(t, backend.Probe(context.Background()))
}
