package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"unicornio-backend/internal/entrepreneurs"
	"unicornio-backend/internal/reports"
	"unicornio-backend/internal/shared/config"
	"unicornio-backend/internal/shared/metrics"
	"unicornio-backend/internal/shared/server/middleware"
	"unicornio-backend/internal/shared/server/respond"
)

const informeQueryPath = "/api/informe/:id"

// RouterDeps carries the handlers mounted under /api.
type RouterDeps struct {
	Config              config.Config
	EntrepreneurHandler *entrepreneurs.Handler
	ReportHandler       *reports.Handler
	Buckets             *middleware.Buckets
}

// DefaultQuotas give the polled status route more headroom than the rest.
var DefaultQuotas = map[string]middleware.Quota{
	middleware.GroupDefault: {PerSecond: 5, Burst: 20},
	middleware.GroupPolling: {PerSecond: 10, Burst: 40},
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(middleware.RequestID())
	if cfg.OTelEnabled {
		r.Use(middleware.Tracing(cfg.ServiceName), middleware.TraceID())
	}
	r.Use(
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
		middleware.Throttle(middleware.ThrottleOptions{
			Quotas:   DefaultQuotas,
			Classify: routeGroup,
			Buckets:  deps.Buckets,
		}),
	)

	r.GET("/health", func(c *gin.Context) {
		respond.OK(c, gin.H{"status": "OK", "message": "API funcionando correctamente"})
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	if deps.EntrepreneurHandler != nil {
		deps.EntrepreneurHandler.RegisterRoutes(api)
	}
	if deps.ReportHandler != nil {
		deps.ReportHandler.RegisterQueryRoutes(api)
		deps.ReportHandler.RegisterRoutes(api)
	}

	r.NoRoute(func(c *gin.Context) {
		respond.Error(c, http.StatusNotFound, "route_not_found", "Ruta no encontrada", nil)
	})

	return r
}

func routeGroup(c *gin.Context) string {
	if c.Request.Method == http.MethodGet && c.FullPath() == informeQueryPath {
		return middleware.GroupPolling
	}
	if c.FullPath() == "/health" || c.FullPath() == "/metrics" {
		return middleware.GroupUnlimited
	}
	return middleware.GroupDefault
}

// PruneBuckets drops idle throttle buckets every interval until stop closes.
func PruneBuckets(b *middleware.Buckets, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.Prune(10 * time.Minute)
		}
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
