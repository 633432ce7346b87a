package reports

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"unicornio-backend/internal/entrepreneurs"
	"unicornio-backend/internal/realtime"
	"unicornio-backend/internal/shared/server/middleware"
	"unicornio-backend/internal/shared/server/respond"
	"unicornio-backend/internal/shared/telemetry"
)

const (
	msgNotFound        = "Emprendedor no encontrado"
	msgRegenerating    = "Regeneración de informe iniciada"
	defaultHeartbeat   = 15 * time.Second
	defaultStreamLimit = 10 * time.Minute
)

// Regenerator resets a report and starts a new analysis run.
type Regenerator interface {
	Regenerate(ctx context.Context, id string) (entrepreneurs.Emprendedor, error)
}

// Handler serves /informe routes.
type Handler struct {
	Store   Store
	Trigger Regenerator
	Hub     *realtime.Hub

	Heartbeat   time.Duration
	StreamLimit time.Duration
}

// NewHandler constructs a Handler. hub may be nil, which disables the event
// stream route.
func NewHandler(store Store, trigger Regenerator, hub *realtime.Hub) *Handler {
	return &Handler{Store: store, Trigger: trigger, Hub: hub}
}

// RegisterQueryRoutes attaches the polled status route.
func (h *Handler) RegisterQueryRoutes(rg *gin.RouterGroup) {
	rg.GET("/informe/:id", h.get)
}

// RegisterRoutes attaches the remaining /informe routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/informe")
	g.POST("/:id/regenerar", h.regenerate)
	if h.Hub != nil {
		g.GET("/:id/eventos", h.events)
	}
}

func (h *Handler) get(c *gin.Context) {
	rec, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Error al obtener el informe")
		return
	}
	c.Set(middleware.EmprendedorIDKey, rec.ID)
	status, body := View(rec)
	c.JSON(status, body)
}

func (h *Handler) regenerate(c *gin.Context) {
	rec, err := h.Trigger.Regenerate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Error al regenerar el informe")
		return
	}
	c.Set(middleware.EmprendedorIDKey, rec.ID)
	c.Set(middleware.ReportTransitionKey, string(entrepreneurs.StateProcessing))
	respond.OK(c, gin.H{
		"success": true,
		"message": msgRegenerating,
		"estado":  string(entrepreneurs.StateProcessing),
	})
}

// events streams the report view as server-sent events: once on connect and
// again after every state change, closing after a terminal state.
func (h *Handler) events(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	// Subscribe before the first read so a transition landing in between
	// still wakes the loop.
	client := h.Hub.Subscribe(id)
	defer h.Hub.Unsubscribe(client)

	rec, err := h.Store.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "Error al obtener el informe")
		return
	}
	c.Set(middleware.EmprendedorIDKey, rec.ID)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if !h.send(c, rec) {
		return
	}

	heartbeat := time.NewTicker(durationOr(h.Heartbeat, defaultHeartbeat))
	defer heartbeat.Stop()
	limit := time.NewTimer(durationOr(h.StreamLimit, defaultStreamLimit))
	defer limit.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-limit.C:
			return
		case <-heartbeat.C:
			if _, err := c.Writer.WriteString(": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case _, ok := <-client.Outbound:
			if !ok {
				return
			}
			latest, err := h.Store.Get(ctx, id)
			if err != nil {
				if !errors.Is(err, entrepreneurs.ErrNotFound) {
					telemetry.Warn("informe.events_read_failed", map[string]any{
						"emprendedor_id": id,
						"error":          err,
					})
				}
				return
			}
			if !h.send(c, latest) {
				return
			}
		}
	}
}

// send writes one event and reports whether the stream should continue.
func (h *Handler) send(c *gin.Context, rec entrepreneurs.Emprendedor) bool {
	_, body := View(rec)
	c.SSEvent(realtime.EventName, body)
	c.Writer.Flush()
	return !rec.Report.State.Terminal()
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, entrepreneurs.ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "not_found", msgNotFound, nil)
		return
	}
	telemetry.Error("informe.handler_failed", map[string]any{
		"request_id": middleware.RequestIDFromContext(c),
		"error":      err,
	})
	respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
}

func durationOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
