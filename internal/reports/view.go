package reports

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"unicornio-backend/internal/entrepreneurs"
)

const (
	msgPending    = "El informe aún se está procesando"
	msgProcessing = "El análisis está en progreso"
	msgFailed     = "Error al generar el informe"
)

// View maps a record's report to the client-visible status code and body.
// It never mutates the record.
func View(rec entrepreneurs.Emprendedor) (int, gin.H) {
	switch rec.Report.State.Normalize() {
	case entrepreneurs.StateProcessing:
		return http.StatusAccepted, gin.H{
			"success": true,
			"message": msgProcessing,
			"estado":  string(entrepreneurs.StateProcessing),
		}
	case entrepreneurs.StateError:
		return http.StatusInternalServerError, gin.H{
			"success":  false,
			"error":    msgFailed,
			"detalles": rec.Report.ErrorMessage,
		}
	case entrepreneurs.StateCompleted:
		return http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"emprendedor": rec.Summarize(),
				"informe":     rec.Report,
			},
		}
	default:
		return http.StatusAccepted, gin.H{
			"success": true,
			"message": msgPending,
			"estado":  string(entrepreneurs.StatePending),
		}
	}
}
