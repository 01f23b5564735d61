package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	importhandler "github.com/HenriqueDutra22/Mycash/internal/domain/import/handler"
	"github.com/HenriqueDutra22/Mycash/pkg/config"
)

func newTestDependencies() *Dependencies {
	return &Dependencies{
		Config: &config.Config{
			Server: config.ServerConfig{
				RateLimitPerSecond: 100,
				RateLimitBurst:     100,
				AllowedOrigins:     []string{"http://localhost:3000"},
			},
			Auth:          config.AuthConfig{JWTSecret: "test-secret"},
			Observability: config.ObservabilityConfig{MetricsEnabled: true},
			Import:        config.ImportConfig{MaxUploadBytes: 1 << 20},
		},
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		ImportHandler: importhandler.NewImportHandler(nil),
	}
}

func TestSetupRouter_UtilityRoutes(t *testing.T) {
	server := httptest.NewServer(SetupRouter(newTestDependencies()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metrics, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestSetupRouter_ImportRequiresAuth(t *testing.T) {
	server := httptest.NewServer(SetupRouter(newTestDependencies()))
	defer server.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL+importhandler.ListCandidatesProcedure, strings.NewReader(`{"job_id":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestRequestBodyLimit(t *testing.T) {
	assert.Greater(t, requestBodyLimit(3<<20), int64(4<<20))
	assert.Equal(t, requestBodyLimit(10<<20), requestBodyLimit(0))
}

func TestSetupRouter_HealthWithoutDatabase(t *testing.T) {
	server := httptest.NewServer(SetupRouter(newTestDependencies()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	details, err := http.Get(server.URL + "/health/details")
	require.NoError(t, err)
	defer details.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, details.StatusCode)

	var report map[string]componentStatus
	require.NoError(t, json.NewDecoder(details.Body).Decode(&report))
	assert.Equal(t, statusFail, report["db"].Status)
	assert.Equal(t, statusWarn, report["ai"].Status)
}
