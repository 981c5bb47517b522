package live

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-signage/backend/pkg/response"
)

// Handler exposes display playback over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a playback handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the playback routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/displays/:id/playback")
	g.GET("", h.State)
	g.POST("/start", h.Start)
	g.POST("/stop", h.Stop)
	g.POST("/complete", h.Complete)
}

func displayParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid display id")
		return uuid.Nil, false
	}
	return id, true
}

// Start handles POST /displays/:id/playback/start.
func (h *Handler) Start(c *gin.Context) {
	displayID, ok := displayParam(c)
	if !ok {
		return
	}
	started, err := h.svc.StartDisplay(c.Request.Context(), displayID)
	if err != nil {
		h.logger.Error("start display failed", zap.Error(err), zap.String("display_id", displayID.String()))
		response.Internal(c, "failed to start playback")
		return
	}
	response.OK(c, gin.H{"display_id": displayID, "running": true, "started": started})
}

// Stop handles POST /displays/:id/playback/stop.
func (h *Handler) Stop(c *gin.Context) {
	displayID, ok := displayParam(c)
	if !ok {
		return
	}
	h.svc.StopDisplay(displayID)
	response.OK(c, gin.H{"display_id": displayID, "running": false})
}

// Complete handles POST /displays/:id/playback/complete.
func (h *Handler) Complete(c *gin.Context) {
	displayID, ok := displayParam(c)
	if !ok {
		return
	}
	if !h.svc.Complete(displayID) {
		response.NotFound(c, "playback not running")
		return
	}
	response.OK(c, gin.H{"display_id": displayID})
}

// State handles GET /displays/:id/playback.
func (h *Handler) State(c *gin.Context) {
	displayID, ok := displayParam(c)
	if !ok {
		return
	}
	snap, running := h.svc.State(displayID)
	if !running {
		response.NotFound(c, "playback not running")
		return
	}
	response.OK(c, snap)
}
