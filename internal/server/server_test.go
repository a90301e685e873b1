package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/amoylab/chatmesh/internal/common/config"
	"github.com/amoylab/chatmesh/pkg/metrics"
)

type fakeHealth struct {
	pingErr error
}

func (f *fakeHealth) InstanceID() string         { return "node-a" }
func (f *fakeHealth) OpenConnections() int       { return 3 }
func (f *fakeHealth) SubscribedRooms() []int64   { return []int64{7, 9} }
func (f *fakeHealth) Ping(context.Context) error { return f.pingErr }

func newTestConfig() *config.ChatMeshConfig {
	cfg := &config.ChatMeshConfig{}
	config.SetDefaults(cfg)
	cfg.Metrics.Enabled = true
	return cfg
}

func TestServer_Health(t *testing.T) {
	health := &fakeHealth{}
	s := NewServer(zap.NewNop(), newTestConfig(), func(c *gin.Context) {}, health, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "node-a", body["instanceId"])
	assert.EqualValues(t, 3, body["openConnections"])

	health.pingErr = errors.New("redis down")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis down")
}

func TestServer_TracingMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := newTestConfig()
	cfg.Tracing.Enabled = true
	s := NewServer(zap.NewNop(), cfg, func(c *gin.Context) {}, &fakeHealth{}, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Name(), "/healthz")
}

func TestServer_RoutesWebsocketPath(t *testing.T) {
	cfg := newTestConfig()
	called := false
	s := NewServer(zap.NewNop(), cfg, func(c *gin.Context) {
		called = true
		c.Status(http.StatusTeapot)
	}, &fakeHealth{}, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", cfg.Server.WSPath+"?userId=1", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	cfg := newTestConfig()
	m := metrics.New(cfg.Metrics)
	s := NewServer(zap.NewNop(), cfg, func(c *gin.Context) {}, &fakeHealth{}, m)

	m.WSConnected()
	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", cfg.Metrics.Path, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chatmesh_ws_connections 1")
	assert.True(t, strings.Contains(w.Body.String(), `chatmesh_http_requests_total{method="GET",route="/healthz",status="200"}`))
}

func TestServer_CORS(t *testing.T) {
	cfg := newTestConfig()
	cfg.CORS.AllowOrigins = []string{"https://chat.example.com"}
	cfg.CORS.MaxAge = time.Hour
	s := NewServer(zap.NewNop(), cfg, func(c *gin.Context) {}, &fakeHealth{}, nil)

	r := httptest.NewRequest("OPTIONS", "/healthz", nil)
	r.Header.Set("Origin", "https://chat.example.com")
	r.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	assert.Equal(t, "https://chat.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest("GET", "/healthz", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_Recovery(t *testing.T) {
	s := NewServer(zap.NewNop(), newTestConfig(), func(c *gin.Context) {
		panic("boom")
	}, &fakeHealth{}, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/ws/chat", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := newTestConfig()
	cfg.Server.Port = 0
	s := NewServer(zap.NewNop(), cfg, func(c *gin.Context) {}, &fakeHealth{}, nil)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
}
