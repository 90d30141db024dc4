package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/billflow/backend/docs"
	"github.com/billflow/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pingRegistrar struct{}

func (pingRegistrar) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	rg.POST("/echo", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.String(http.StatusOK, string(body))
	})
	rg.GET("/panic", func(c *gin.Context) { panic("boom") })
}

func newTestEngine(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	engine, err := NewEngine(opts)
	require.NoError(t, err)
	NewRouter(engine).Register(pingRegistrar{}).Setup()
	return engine
}

func serve(engine *gin.Engine, method, path string, body io.Reader) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, body))
	return w
}

func TestRouter_Defaults(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)
}

func TestRouter_MountsUnderVersion(t *testing.T) {
	engine := newTestEngine(t, Options{})

	w := serve(engine, http.MethodGet, "/api/v1/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	assert.Equal(t, http.StatusNotFound, serve(engine, http.MethodGet, "/ping", nil).Code)
}

func TestNewEngine_OperationalEndpoints(t *testing.T) {
	engine := newTestEngine(t, Options{
		Health: func(c *gin.Context) { c.String(http.StatusOK, "healthy") },
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# HELP up"))
		}),
		Meter: noop.NewMeterProvider().Meter("test"),
	})

	assert.Equal(t, "healthy", serve(engine, http.MethodGet, HealthPath, nil).Body.String())
	assert.Contains(t, serve(engine, http.MethodGet, MetricsPath, nil).Body.String(), "# HELP")
}

func TestNewEngine_BodyLimit(t *testing.T) {
	engine := newTestEngine(t, Options{MaxBodySize: 16})

	w := serve(engine, http.MethodPost, "/api/v1/echo", strings.NewReader("short"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(engine, http.MethodPost, "/api/v1/echo", strings.NewReader(strings.Repeat("x", 64)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_REQUEST_TOO_LARGE")
}

func TestNewEngine_RecoversPanics(t *testing.T) {
	engine := newTestEngine(t, Options{})

	w := serve(engine, http.MethodGet, "/api/v1/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_INTERNAL")
}

func TestNewEngine_CORS(t *testing.T) {
	engine := newTestEngine(t, Options{CORSOrigins: []string{"https://console.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ping", nil)
	req.Header.Set("Origin", "https://console.example.com")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewEngine_Swagger(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		engine := newTestEngine(t, Options{})
		assert.Equal(t, http.StatusNotFound, serve(engine, http.MethodGet, "/swagger/doc.json", nil).Code)
	})

	t.Run("serves the generated document", func(t *testing.T) {
		engine := newTestEngine(t, Options{Swagger: middleware.SwaggerConfig{Enabled: true}})

		w := serve(engine, http.MethodGet, "/swagger/doc.json", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Billflow API")
		assert.Contains(t, w.Body.String(), "/billing/records/{id}/settle")
		assert.Contains(t, w.Body.String(), "/wallets/{user_id}/topup")
	})

	t.Run("allow list rejects other clients", func(t *testing.T) {
		engine := newTestEngine(t, Options{Swagger: middleware.SwaggerConfig{
			Enabled:    true,
			AllowedIPs: []string{"127.0.0.1"},
		}})

		req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
