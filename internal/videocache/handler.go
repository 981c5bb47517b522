package videocache

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-signage/backend/pkg/response"
)

// FetchRequest is the body for POST /cache/videos.
type FetchRequest struct {
	ID  string `json:"id" binding:"required,excludes=/"`
	URL string `json:"url" binding:"required,url"`
}

// Handler exposes the store over HTTP. GET /cache/videos/:id serves the bytes behind handles.
type Handler struct {
	store  *Store
	logger *zap.Logger
}

// NewHandler creates a cache handler.
func NewHandler(store *Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Register mounts the cache routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/cache")
	g.GET("/videos", h.List)
	g.GET("/size", h.Size)
	g.GET("/videos/:id", h.Serve)
	g.POST("/videos", h.Fetch)
	g.DELETE("/videos/:id", h.Delete)
	g.DELETE("/videos", h.Clear)
}

// List handles GET /cache/videos.
func (h *Handler) List(c *gin.Context) {
	records, err := h.store.ListCached(c.Request.Context())
	if err != nil {
		h.logger.Error("list cached videos failed", zap.Error(err))
		response.Internal(c, "failed to list cached videos")
		return
	}
	response.OK(c, records)
}

// Size handles GET /cache/size.
func (h *Handler) Size(c *gin.Context) {
	size, err := h.store.GetCacheSize(c.Request.Context())
	if err != nil {
		h.logger.Error("cache size failed", zap.Error(err))
		response.Internal(c, "failed to compute cache size")
		return
	}
	response.OK(c, gin.H{"bytes": size})
}

// Serve handles GET /cache/videos/:id. Range and conditional requests are honored so
// players can seek.
func (h *Handler) Serve(c *gin.Context) {
	rec, err := h.store.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("read cached video failed", zap.Error(err), zap.String("video_id", c.Param("id")))
		response.Internal(c, "failed to read video")
		return
	}
	if rec == nil {
		response.NotFound(c, "video not cached")
		return
	}
	c.Header("Cache-Control", "private, max-age=31536000, immutable")
	c.Header("Content-Type", http.DetectContentType(rec.Blob))
	http.ServeContent(c.Writer, c.Request, rec.ID, rec.CachedAt, bytes.NewReader(rec.Blob))
}

// Fetch handles POST /cache/videos. It blocks until the video is cached.
func (h *Handler) Fetch(c *gin.Context) {
	var req FetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	handle, err := h.store.EnsureCached(c.Request.Context(), req.URL, req.ID, nil)
	if errors.Is(err, ErrDownload) {
		response.BadGateway(c, err.Error())
		return
	}
	if err != nil {
		response.Internal(c, "failed to cache video")
		return
	}
	response.OK(c, gin.H{"id": req.ID, "handle": handle})
}

// Delete handles DELETE /cache/videos/:id.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.store.DeleteVideo(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("delete cached video failed", zap.Error(err), zap.String("video_id", c.Param("id")))
		response.Internal(c, "failed to delete video")
		return
	}
	response.NoContent(c)
}

// Clear handles DELETE /cache/videos.
func (h *Handler) Clear(c *gin.Context) {
	if err := h.store.ClearAll(c.Request.Context()); err != nil {
		h.logger.Error("clear cache failed", zap.Error(err))
		response.Internal(c, "failed to clear cache")
		return
	}
	response.NoContent(c)
}
