package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

const traceIDKey = "traceId"

// Tracing starts a server span per request and exposes the trace ID.
func Tracing(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// TraceID copies the active span's trace ID into the gin context and response.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		spanCtx := trace.SpanContextFromContext(c.Request.Context())
		if spanCtx.HasTraceID() {
			id := spanCtx.TraceID().String()
			c.Set(traceIDKey, id)
			c.Writer.Header().Set("X-Trace-Id", id)
		}
		c.Next()
	}
}
