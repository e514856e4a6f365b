package router

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/realty-crm/internal/handler/health"
	"github.com/jwalitptl/realty-crm/internal/middleware"
)

// Handler registers a route group's endpoints.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
	CORS           middleware.CORSConfig
	MetricsPrefix  string
}

type Router struct {
	engine       *gin.Engine
	healthH      *health.Handler
	appointmentH Handler
	calendarH    Handler
	clientH      Handler
	preferenceH  Handler
	metrics      *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

func NewRouter(
	healthH *health.Handler,
	appointmentH Handler,
	calendarH Handler,
	clientH Handler,
	preferenceH Handler,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	r := &Router{
		engine:       engine,
		healthH:      healthH,
		appointmentH: appointmentH,
		calendarH:    calendarH,
		clientH:      clientH,
		preferenceH:  preferenceH,
		metrics:      initRouterMetrics(config.MetricsPrefix),
	}

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = middleware.DefaultTimeoutConfig().Duration
	}

	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
	)
	engine.Use(middleware.CORS(config.CORS))

	if config.RateLimitRPS > 0 {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RPS:   config.RateLimitRPS,
			Burst: config.RateLimitBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	engine.NoRoute(middleware.NotFoundHandler())
	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.healthH.RegisterRoutes(api)
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.appointmentH.RegisterRoutes(api)
	r.calendarH.RegisterRoutes(api)
	r.clientH.RegisterRoutes(api)
	r.preferenceH.RegisterRoutes(api)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(prefix string) *routerMetrics {
	m := &routerMetrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_http_request_duration_seconds", prefix),
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_http_requests_total", prefix),
			Help: "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
	}
	prometheus.MustRegister(m.requestDuration, m.requestTotal)
	return m
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := fmt.Sprintf("%d", c.Writer.Status())

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
