package ads

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-signage/backend/internal/models"
	"github.com/aura-signage/backend/internal/schedule"
	"github.com/aura-signage/backend/pkg/queue"
	"github.com/aura-signage/backend/pkg/response"
	"github.com/aura-signage/backend/pkg/storage"
)

// Store persists advertisements. *Repository implements it.
type Store interface {
	Create(ctx context.Context, a *models.Advertisement) error
	GetByID(ctx context.Context, id string) (*models.Advertisement, error)
	ListByDisplay(ctx context.Context, displayID uuid.UUID) ([]models.Advertisement, error)
	Delete(ctx context.Context, id string) error
}

// DisplayReloader refreshes a running display after its ads change.
type DisplayReloader interface {
	Reload(ctx context.Context, displayID uuid.UUID) error
}

// PrefetchQueue accepts video prefetch jobs.
type PrefetchQueue interface {
	EnqueueVideoPrefetch(ctx context.Context, payload queue.VideoPrefetchPayload) (bool, error)
}

// MediaUploader stores ad media and hands back a public URL.
type MediaUploader interface {
	UploadMedia(ctx context.Context, displayID, filename, contentType string, body io.Reader, size int64) (*storage.UploadResult, error)
	DeleteMedia(ctx context.Context, publicID string) error
	PublicIDFromURL(url string) string
}

// VideoCache evicts downloaded videos. *videocache.Store implements it.
type VideoCache interface {
	DeleteVideo(ctx context.Context, id string) error
}

// Handler handles advertisement HTTP endpoints.
type Handler struct {
	store    Store
	reloader DisplayReloader
	prefetch PrefetchQueue
	media    MediaUploader
	cache    VideoCache
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates an ads handler. reloader, prefetch, media and cache may be nil.
func NewHandler(store Store, reloader DisplayReloader, prefetch PrefetchQueue, media MediaUploader, cache VideoCache, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, reloader: reloader, prefetch: prefetch, media: media, cache: cache, logger: logger, now: time.Now}
}

// Register mounts the ad routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/displays/:id/ads", h.Create)
	r.GET("/displays/:id/ads", h.List)
	r.GET("/displays/:id/ads/eligible", h.Eligible)
	r.POST("/displays/:id/ads/upload", h.Upload)
	r.DELETE("/ads/:id", h.Delete)
}

// Create handles POST /displays/:id/ads.
func (h *Handler) Create(c *gin.Context) {
	displayID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid display id")
		return
	}

	var a models.Advertisement
	if err := c.ShouldBindJSON(&a); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	a.DisplayID = displayID
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := a.Validate(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	err = h.store.Create(ctx, &a)
	if errors.Is(err, ErrDuplicateID) {
		response.Conflict(c, "advertisement id already exists")
		return
	}
	if err != nil {
		h.logger.Error("create advertisement failed", zap.Error(err), zap.String("display_id", displayID.String()))
		response.Internal(c, "failed to create advertisement")
		return
	}
	h.reload(ctx, displayID)
	if a.IsVideo() && h.prefetch != nil {
		if _, err := h.prefetch.EnqueueVideoPrefetch(ctx, queue.VideoPrefetchPayload{VideoID: a.ID, URL: a.MediaURL, DisplayID: displayID}); err != nil {
			h.logger.Warn("enqueue prefetch failed", zap.Error(err), zap.String("ad_id", a.ID))
		}
	}
	response.Created(c, a)
}

// List handles GET /displays/:id/ads.
func (h *Handler) List(c *gin.Context) {
	displayID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid display id")
		return
	}
	list, err := h.store.ListByDisplay(c.Request.Context(), displayID)
	if err != nil {
		h.logger.Error("list advertisements failed", zap.Error(err), zap.String("display_id", displayID.String()))
		response.Internal(c, "failed to list ads")
		return
	}
	response.OK(c, list)
}

// Eligible handles GET /displays/:id/ads/eligible?at=RFC3339. It evaluates the schedule
// without touching any display's frequency window.
func (h *Handler) Eligible(c *gin.Context) {
	displayID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid display id")
		return
	}
	at := h.now()
	if raw := c.Query("at"); raw != "" {
		if at, err = time.Parse(time.RFC3339, raw); err != nil {
			response.BadRequest(c, "invalid at: want RFC3339")
			return
		}
	}
	list, err := h.store.ListByDisplay(c.Request.Context(), displayID)
	if err != nil {
		h.logger.Error("list advertisements failed", zap.Error(err), zap.String("display_id", displayID.String()))
		response.Internal(c, "failed to list ads")
		return
	}
	matches := schedule.Matching(list, at)
	if matches == nil {
		matches = []models.Advertisement{}
	}
	response.OK(c, gin.H{"at": at.Format(time.RFC3339), "ads": matches})
}

// Upload handles POST /displays/:id/ads/upload (multipart form field "file").
func (h *Handler) Upload(c *gin.Context) {
	if h.media == nil {
		response.ServiceUnavailable(c, "media storage not configured")
		return
	}
	displayID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid display id")
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing file (form field: file)")
		return
	}
	contentType, ok := storage.ContentTypeFor(file.Header.Get("Content-Type"), file.Filename)
	if !ok {
		response.BadRequest(c, "invalid file type: only images (jpg, png, webp, gif) and videos (mp4, webm, mov) allowed")
		return
	}
	if file.Size > storage.MaxSizeFor(contentType) {
		response.BadRequest(c, "file too large")
		return
	}

	rc, err := file.Open()
	if err != nil {
		h.logger.Error("open uploaded file failed", zap.Error(err))
		response.Internal(c, "failed to read file")
		return
	}
	defer rc.Close()

	result, err := h.media.UploadMedia(c.Request.Context(), displayID.String(), file.Filename, contentType, rc, file.Size)
	if err != nil {
		h.logger.Error("media upload failed", zap.Error(err), zap.String("display_id", displayID.String()))
		response.Internal(c, "failed to upload file to storage")
		return
	}
	response.Created(c, result)
}

// Delete handles DELETE /ads/:id. A video ad's cached copy is evicted so a later ad
// reusing the id downloads its own media.
func (h *Handler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	a, err := h.store.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "ad not found")
		return
	}
	if err != nil {
		h.logger.Error("get advertisement failed", zap.Error(err), zap.String("ad_id", id))
		response.Internal(c, "failed to delete ad")
		return
	}
	if err := h.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		h.logger.Error("delete advertisement failed", zap.Error(err), zap.String("ad_id", id))
		response.Internal(c, "failed to delete ad")
		return
	}
	if h.media != nil {
		if publicID := h.media.PublicIDFromURL(a.MediaURL); publicID != "" {
			if err := h.media.DeleteMedia(ctx, publicID); err != nil {
				h.logger.Warn("delete media failed", zap.Error(err), zap.String("public_id", publicID))
			}
		}
	}
	if h.cache != nil && a.IsVideo() {
		if err := h.cache.DeleteVideo(ctx, a.ID); err != nil {
			h.logger.Warn("evict cached video failed", zap.Error(err), zap.String("ad_id", a.ID))
		}
	}
	h.reload(ctx, a.DisplayID)
	response.NoContent(c)
}

func (h *Handler) reload(ctx context.Context, displayID uuid.UUID) {
	if h.reloader == nil {
		return
	}
	if err := h.reloader.Reload(ctx, displayID); err != nil {
		h.logger.Warn("reload display failed", zap.Error(err), zap.String("display_id", displayID.String()))
	}
}
