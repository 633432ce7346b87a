package respond

import (
	"github.com/gin-gonic/gin"

	"unicornio-backend/internal/shared/telemetry"
)

// ErrorResponse is the standardized failure envelope.
type ErrorResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Detalles any    `json:"detalles,omitempty"`
}

// Error sends a standardized error response and logs it.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if id := c.Param("id"); id != "" {
		fields["emprendedor_id"] = id
	}
	if status >= 500 {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Success:  false,
		Error:    message,
		Code:     code,
		Detalles: details,
	})
}
