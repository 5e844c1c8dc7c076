package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/core/ports"
	"roomwatch/internal/core/services"
	"roomwatch/internal/infrastructure/middleware"
	"roomwatch/internal/infrastructure/monitoring"
	"roomwatch/internal/infrastructure/repositories"
	"roomwatch/internal/infrastructure/repositories/memory"
	"roomwatch/internal/infrastructure/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	router   *gin.Engine
	registry *services.MonitorRegistry
	sessions *telemetry.SessionStore
	reports  ports.ReportRepository
	tokens   services.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()

	classifier := services.NewQualityService(nil)
	reports := memory.NewMemoryReportRepository()
	hub := telemetry.NewHub(telemetry.HubConfig{}, logger)
	// an hour-long interval keeps the loop out of the way; tests tick by hand
	registry := services.NewMonitorRegistry(
		services.MonitorConfig{SampleInterval: time.Hour, MinInterval: time.Millisecond},
		classifier, nil, logger,
		repositories.NewReportSink(reports, nil), hub,
	)
	t.Cleanup(registry.Close)

	sessions := telemetry.NewSessionStore(time.Minute, 0, nil, logger)
	tokens := services.NewTokenService("devkey", "secret", time.Hour)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	NewTokenHandler(tokens, "", nil, logger).SetupRoutes(router)
	NewQualityHandler(registry, sessions, reports, classifier, hub, logger).
		SetupRoutes(router, middleware.RoomTokenMiddleware(tokens))

	checker := monitoring.NewHealthChecker()
	checker.AddCheck("memory", func(context.Context) error { return nil }, time.Second)
	NewHealthHandler(checker, registry.Count).SetupRoutes(router)

	return &testEnv{
		router:   router,
		registry: registry,
		sessions: sessions,
		reports:  reports,
		tokens:   tokens,
	}
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestGetToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/get-token?room=test&identity=alice", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	decodeBody(t, w, &resp)
	require.NotEmpty(t, resp["token"])
	_, hasURL := resp["url"]
	assert.False(t, hasURL)

	claims, err := env.tokens.Validate(resp["token"])
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Identity())
	assert.Equal(t, "test", claims.Room())
}

func TestGetToken_VersionedPathAndURL(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	NewTokenHandler(services.NewTokenService("k", "s", time.Hour), "wss://media.example.com", nil, nil).SetupRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/token?room=test&identity=alice", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	decodeBody(t, w, &resp)
	assert.Equal(t, "wss://media.example.com", resp["url"])
}

func TestGetToken_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		query string
	}{
		{"missing identity", "room=test"},
		{"missing room", "identity=alice"},
		{"blank room", "room=%20%20&identity=alice"},
		{"too long identity", "room=test&identity=" + strings.Repeat("a", 257)},
		{"slash in room", "room=a%2Fb&identity=alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, "/api/get-token?"+tt.query, "", "")
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp map[string]interface{}
			decodeBody(t, w, &resp)
			assert.Equal(t, "INVALID_INPUT", resp["error"])
			assert.NotEmpty(t, resp["message"])
		})
	}
}

func TestGetToken_SigningFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	NewTokenHandler(services.NewTokenService("", "", time.Hour), "", nil, nil).SetupRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/get-token?room=test&identity=alice", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp map[string]interface{}
	decodeBody(t, w, &resp)
	assert.Equal(t, "TOKEN_SIGNING_FAILED", resp["error"])
	assert.Equal(t, "Failed to generate token", resp["message"])
}

func TestQualityFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token, err := env.tokens.Issue("demo", "alice")
	require.NoError(t, err)

	statsPath := "/api/v1/rooms/demo/participants/alice/stats"
	qualityPath := "/api/v1/rooms/demo/participants/alice/quality"

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, statsPath, "", `{}`).Code)

	w := env.do(http.MethodPost, statsPath, token,
		`{"outbound":{"bytes_sent":0,"packets_total":0},"inbound":{"bytes_received":0},"state":"connected"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	monitor, ok := env.registry.Get("demo/alice")
	require.True(t, ok)
	assert.True(t, monitor.Attached())

	result, err := monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, services.ResultSkipped, result)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, qualityPath, "", "").Code)

	time.Sleep(5 * time.Millisecond)
	w = env.do(http.MethodPost, statsPath, token,
		`{"outbound":{"bytes_sent":1000000,"packets_total":1000,"round_trip_time":0.02,"jitter":0.002},"inbound":{"bytes_received":500000,"packets_total":500}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	result, err = monitor.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, services.ResultOK, result)

	w = env.do(http.MethodGet, qualityPath, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report domain.QualityReport
	decodeBody(t, w, &report)
	assert.Equal(t, domain.TierExcellent, report.Tier)
	assert.Equal(t, "Excellent", report.Label)
	assert.Equal(t, "green", report.Color)
	assert.InDelta(t, 20, report.Metrics.RoundTripMs, 1e-9)
	assert.Equal(t, uint64(1), report.Sequence)

	require.Eventually(t, func() bool {
		_, err := env.reports.Latest(ctx, "demo/alice")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	w = env.do(http.MethodGet, "/api/v1/rooms/demo/quality", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var room struct {
		Room         string                 `json:"room"`
		Participants []domain.QualityReport `json:"participants"`
	}
	decodeBody(t, w, &room)
	assert.Equal(t, "demo", room.Room)
	require.Len(t, room.Participants, 1)
	assert.Equal(t, "alice", room.Participants[0].Identity)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/v1/rooms/demo/participants/alice", "", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, qualityPath, "", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/v1/rooms/demo/participants/alice", "", "").Code)
	assert.Equal(t, 0, env.registry.Count())
	assert.Equal(t, 0, env.sessions.Count())
}

func TestPushStats_TerminalStateDetaches(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.tokens.Issue("demo", "bob")
	require.NoError(t, err)
	path := "/api/v1/rooms/demo/participants/bob/stats"

	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, path, token, `{"state":"connected"}`).Code)
	monitor, ok := env.registry.Get("demo/bob")
	require.True(t, ok)

	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, path, token, `{"state":"failed"}`).Code)
	assert.False(t, monitor.Attached())

	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, path, token, `{"state":"connected"}`).Code)
	assert.True(t, monitor.Attached())
}

func TestPushStats_InvalidPayload(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.tokens.Issue("demo", "alice")
	require.NoError(t, err)
	path := "/api/v1/rooms/demo/participants/alice/stats"

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, path, token, `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, path, token, `{"outbound":{"jitter":-1}}`).Code)
	assert.Equal(t, 0, env.registry.Count())
}

func TestClassify(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/quality/classify?bandwidth=4&rtt=50&jitter=10&loss=0.5", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tier       domain.QualityTier   `json:"tier"`
		Label      string               `json:"label"`
		Thresholds []domain.QualityBand `json:"thresholds"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, domain.TierExcellent, resp.Tier)
	assert.Equal(t, "Excellent", resp.Label)
	assert.Len(t, resp.Thresholds, 4)

	w = env.do(http.MethodGet, "/api/v1/quality/classify?bandwidth=0.1&rtt=500&jitter=100&loss=20", "", "")
	decodeBody(t, w, &resp)
	assert.Equal(t, domain.TierBad, resp.Tier)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/quality/classify?bandwidth=4&rtt=50&jitter=10", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/quality/classify?bandwidth=x&rtt=50&jitter=10&loss=0", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/quality/classify?bandwidth=-1&rtt=50&jitter=10&loss=0", "", "").Code)
}

func TestStreamQuality_RequiresRoom(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/ws/quality", "", "").Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active_sessions":0`)

	w = env.do(http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"memory":"healthy"`)
}
