package handlers

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/crop-disease-api/internal/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Handler      *Handler
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	MetricsPath  string
	AllowOrigins []string
	Debug        bool
}

// NewRouter builds a gin engine with recovery, request logging, metrics and
// CORS, the API under /api and the metrics endpoint.
func NewRouter(opts RouterOptions) *gin.Engine {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(logger))
	if opts.Metrics != nil {
		engine.Use(metricsMiddleware(opts.Metrics))
	}
	engine.Use(cors.New(corsConfig(opts.AllowOrigins)))

	api := engine.Group("/api")
	opts.Handler.RegisterRoutes(api)

	if opts.Metrics != nil && opts.MetricsPath != "" {
		engine.GET(opts.MetricsPath, gin.WrapH(opts.Metrics.Handler()))
	}

	engine.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "Not found")
	})
	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// unmatched paths share one label to bound cardinality
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveRequest(path, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
