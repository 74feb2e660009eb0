package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"mediafetch/internal/catalog"
	"mediafetch/internal/quota"
	"mediafetch/internal/task"
	"mediafetch/internal/upload"
)

// UsageReader is the read-only slice of the quota ledger the API exposes.
type UsageReader interface {
	CurrentUsage(kind quota.Kind) (quota.Usage, error)
	Day() string
}

type contentItemRequest struct {
	URL       string `json:"url" binding:"required"`
	Name      string `json:"name" binding:"required"`
	Kind      string `json:"kind"`
	SizeBytes int64  `json:"size_bytes"`
}

type submitRequest struct {
	Items []contentItemRequest `json:"items"`
}

type submitResponse struct {
	TaskID string      `json:"task_id"`
	Status task.Status `json:"status"`
}

type usageEntry struct {
	Used      int64  `json:"used"`
	Limit     *int64 `json:"limit"`
	Remaining *int64 `json:"remaining"`
}

type usageResponse struct {
	Date     string     `json:"date"`
	Download usageEntry `json:"download"`
	Upload   usageEntry `json:"upload"`
}

type API struct {
	manager  *task.Manager
	uploader *upload.Uploader
	usage    UsageReader
	catalog  catalog.Catalog
}

func NewAPI(manager *task.Manager, uploader *upload.Uploader, usage UsageReader, cat catalog.Catalog) *API {
	return &API{manager: manager, uploader: uploader, usage: usage, catalog: cat}
}

// RegisterRoutes registers API routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/catalog", a.Discover)
		api.POST("/tasks", a.SubmitTask)
		api.GET("/tasks/:id", a.GetTask)
		api.POST("/tasks/:id/cancel", a.CancelTask)
		api.POST("/uploads", a.UploadSelected)
		api.GET("/usage", a.GetUsage)
	}
}

// Discover runs content discovery with filter criteria taken from query
// parameters (kinds, period, min_size_mb, max_size_mb).
func (a *API) Discover(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, err := a.catalog.Discover(c.Request.Context(), filter)
	if err != nil {
		var ue *catalog.UpstreamError
		if errors.As(err, &ue) {
			log.Warn().Err(err).Msg("catalog discovery failed upstream")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// SubmitTask admits a batch of items for fetching. The response carries the
// task id to poll; quota refusals report the remaining budget.
func (a *API) SubmitTask(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	items := make([]catalog.ContentItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, catalog.ContentItem{
			URL:       it.URL,
			Name:      it.Name,
			Kind:      parseKind(it.Kind),
			SizeBytes: it.SizeBytes,
		})
	}

	id, err := a.manager.Submit(items)
	if err != nil {
		if qe, ok := quota.IsExceeded(err); ok {
			log.Warn().Int64("remaining", qe.Remaining).Msg("submission refused by download quota")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "remaining": qe.Remaining})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, submitResponse{TaskID: id, Status: task.StatusRunning})
}

// GetTask returns the task's pollable snapshot.
func (a *API) GetTask(c *gin.Context) {
	snap, err := a.manager.GetStatus(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CancelTask requests cooperative cancellation of a running task.
func (a *API) CancelTask(c *gin.Context) {
	id := c.Param("id")
	switch err := a.manager.Cancel(id); {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"task_id": id, "status": "cancelling"})
	case errors.Is(err, task.ErrTaskFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	}
}

// UploadSelected promotes previously fetched items into the project area.
func (a *API) UploadSelected(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no items provided"})
		return
	}
	items := make([]catalog.ContentItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, catalog.ContentItem{
			URL:       it.URL,
			Name:      it.Name,
			Kind:      parseKind(it.Kind),
			SizeBytes: it.SizeBytes,
		})
	}
	c.JSON(http.StatusOK, a.uploader.UploadSelected(c.Request.Context(), items))
}

// GetUsage reports both quota kinds for the ledger's current day.
func (a *API) GetUsage(c *gin.Context) {
	download, err := a.usage.CurrentUsage(quota.KindDownload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	up, err := a.usage.CurrentUsage(quota.KindUpload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usageResponse{
		Date:     a.usage.Day(),
		Download: toUsageEntry(download),
		Upload:   toUsageEntry(up),
	})
}

func toUsageEntry(u quota.Usage) usageEntry {
	entry := usageEntry{Used: u.Used}
	if u.Limit > 0 {
		limit, remaining := u.Limit, u.Remaining
		entry.Limit = &limit
		entry.Remaining = &remaining
	}
	return entry
}

func parseKind(raw string) catalog.Kind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "video", "videos":
		return catalog.KindVideo
	case "image", "images":
		return catalog.KindImage
	default:
		return catalog.KindFile
	}
}

func filterFromQuery(c *gin.Context) (catalog.Filter, error) {
	var filter catalog.Filter
	if raw := c.Query("kinds"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			filter.Kinds = append(filter.Kinds, parseKind(part))
		}
	}
	filter.Period = c.Query("period")
	if raw := c.Query("min_size_mb"); raw != "" {
		mb, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, errors.New("invalid min_size_mb")
		}
		filter.MinSizeBytes = int64(mb * float64(1<<20))
	}
	if raw := c.Query("max_size_mb"); raw != "" {
		mb, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, errors.New("invalid max_size_mb")
		}
		filter.MaxSizeBytes = int64(mb * float64(1<<20))
	}
	return filter, filter.Validate()
}
