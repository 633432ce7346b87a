package entrepreneurs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"unicornio-backend/internal/shared/server/middleware"
	"unicornio-backend/internal/shared/server/respond"
	"unicornio-backend/internal/shared/telemetry"
)

const (
	msgCreated  = "Emprendedor creado exitosamente. El análisis de IA se está procesando."
	msgUpdated  = "Emprendedor actualizado exitosamente"
	msgDeleted  = "Emprendedor eliminado exitosamente"
	msgNotFound = "Emprendedor no encontrado"
)

// Launcher starts the analysis for a freshly created record without blocking.
type Launcher interface {
	Launch(ctx context.Context, id string)
}

// Handler wires HTTP handlers to the entrepreneur service.
type Handler struct {
	Svc      *Service
	Launcher Launcher
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, launcher Launcher) *Handler {
	return &Handler{Svc: svc, Launcher: launcher}
}

// RegisterRoutes attaches /emprendedor routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/emprendedor")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
}

func (h *Handler) create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "Cuerpo de la solicitud inválido", err.Error())
		return
	}

	rec, err := h.Svc.Create(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err, "No se pudo crear el emprendedor")
		return
	}
	c.Set(middleware.EmprendedorIDKey, rec.ID)

	respond.Created(c, gin.H{
		"success": true,
		"message": msgCreated,
		"data":    rec,
	})

	// The record is durable at this point; the analysis must never start earlier.
	if h.Launcher != nil {
		h.Launcher.Launch(c.Request.Context(), rec.ID)
	} else {
		telemetry.Warn("analysis.launcher_missing", map[string]any{"emprendedor_id": rec.ID})
	}
}

func (h *Handler) get(c *gin.Context) {
	rec, err := h.Svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "No se pudo obtener el emprendedor")
		return
	}
	respond.OK(c, gin.H{"success": true, "data": rec})
}

func (h *Handler) list(c *gin.Context) {
	page := queryInt(c, "pagina", DefaultPage)
	limit := queryInt(c, "limite", DefaultLimit)
	filter := ListFilter{
		Sector:  c.Query("sector"),
		Stage:   c.Query("etapa"),
		Country: c.Query("pais"),
	}

	result, err := h.Svc.List(c.Request.Context(), filter, page, limit)
	if err != nil {
		h.writeError(c, err, "No se pudo listar los emprendedores")
		return
	}
	respond.OK(c, gin.H{
		"success":       true,
		"emprendedores": result.Items,
		"paginacion":    result.Pagination,
	})
}

func (h *Handler) update(c *gin.Context) {
	var fields map[string]any
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "Cuerpo de la solicitud inválido", err.Error())
		return
	}
	if TouchesReport(fields) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "El informe solo se modifica mediante el análisis o la regeneración", nil)
		return
	}

	rec, err := h.Svc.Update(c.Request.Context(), c.Param("id"), fields)
	if err != nil {
		h.writeError(c, err, "No se pudo actualizar el emprendedor")
		return
	}
	respond.OK(c, gin.H{
		"success": true,
		"message": msgUpdated,
		"data":    rec,
	})
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.Svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err, "No se pudo eliminar el emprendedor")
		return
	}
	respond.OK(c, gin.H{"success": true, "message": msgDeleted})
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	var (
		validation *ValidationError
		duplicate  *DuplicateError
	)
	switch {
	case errors.As(err, &validation):
		respond.Error(c, http.StatusBadRequest, "validation_error", validation.Error(), nil)
	case errors.As(err, &duplicate):
		respond.Error(c, http.StatusBadRequest, "duplicate", duplicate.Error(), gin.H{"campo": duplicate.Field})
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", msgNotFound, nil)
	default:
		telemetry.Error("emprendedor.handler_failed", map[string]any{
			"request_id": middleware.RequestIDFromContext(c),
			"error":      err,
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}
