// Package router assembles the gin engine: middleware chain, operational
// endpoints and the versioned API routes.
package router

import (
	"net/http"

	"github.com/billflow/backend/internal/infrastructure/logger"
	"github.com/billflow/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Operational paths served outside the API group
const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
	SwaggerPath = "/swagger/*any"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Options configures the engine built by NewEngine
type Options struct {
	ServiceName    string
	Logger         *zap.Logger
	TracingEnabled bool
	// Meter records HTTP metrics; nil disables them
	Meter          metric.Meter
	CORSOrigins    []string
	MaxBodySize    int64
	TrustedProxies []string
	// Health answers /health
	Health gin.HandlerFunc
	// Metrics answers /metrics, usually the Prometheus scrape handler
	Metrics http.Handler
	// Swagger serves the OpenAPI UI and doc.json under /swagger
	Swagger middleware.SwaggerConfig
}

// NewEngine creates a gin engine with the billflow middleware chain and operational endpoints
func NewEngine(opts Options) (*gin.Engine, error) {
	engine := gin.New()
	if err := engine.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}
	middleware.SetupValidator()

	unobserved := []string{HealthPath, MetricsPath}
	engine.Use(
		logger.Recovery(opts.Logger),
		middleware.RequestID(),
		middleware.Tracing(middleware.TracingConfig{
			ServiceName: opts.ServiceName,
			Enabled:     opts.TracingEnabled,
			SkipPaths:   unobserved,
		}),
		middleware.SpanEnricher(),
		middleware.SpanErrorMarker(),
		logger.GinMiddleware(opts.Logger),
		middleware.Secure(),
		middleware.CORS(opts.CORSOrigins),
		middleware.Profiling(unobserved...),
	)
	if opts.Meter != nil {
		engine.Use(middleware.HTTPMetrics(opts.Meter, opts.Logger))
	}
	if opts.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(opts.MaxBodySize))
	}

	if opts.Health != nil {
		engine.GET(HealthPath, opts.Health)
	}
	if opts.Metrics != nil {
		engine.GET(MetricsPath, gin.WrapH(opts.Metrics))
	}
	if opts.Swagger.Enabled {
		engine.GET(SwaggerPath,
			middleware.SwaggerProtection(opts.Swagger),
			ginSwagger.WrapHandler(swaggerFiles.Handler),
		)
	}
	return engine, nil
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds registrars to be mounted by Setup
func (r *Router) Register(registrars ...RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrars...)
	return r
}

// Setup mounts every registrar under /api/<version>
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}
