package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"unicornio-backend/internal/shared/telemetry"
)

// Context keys handlers may set to enrich the request log line.
const (
	EmprendedorIDKey    = "emprendedorId"
	ReportTransitionKey = "reportTransition"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		emprendedorID := c.GetString(EmprendedorIDKey)
		if emprendedorID == "" {
			emprendedorID = c.Param("id")
		}

		fields := map[string]any{
			"request_id":        RequestIDFromContext(c),
			"method":            c.Request.Method,
			"path":              c.Request.URL.Path,
			"route":             c.FullPath(),
			"status":            c.Writer.Status(),
			"report_transition": c.GetString(ReportTransitionKey),
			"duration_ms":       float64(latency.Microseconds()) / 1000.0,
			"emprendedor_id":    emprendedorID,
			"client_ip":         c.ClientIP(),
			"user_agent":        c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}
		telemetry.Info("request.complete", fields)
	}
}
