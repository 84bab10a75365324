package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"downpour/registry"
	"downpour/services"
	"downpour/types"
)

// BatchHandler serves the batch polling protocol.
type BatchHandler struct {
	reg  *registry.Registry
	orch *services.Orchestrator
	log  zerolog.Logger
}

// NewBatchHandler creates a batch handler.
func NewBatchHandler(reg *registry.Registry, orch *services.Orchestrator, log zerolog.Logger) *BatchHandler {
	return &BatchHandler{reg: reg, orch: orch, log: log}
}

// BatchRequest is the POST /start-batch-download body.
type BatchRequest struct {
	Videos []types.DownloadRequest `json:"videos" binding:"required"`
}

// StartBatch handles POST /start-batch-download.
func (h *BatchHandler) StartBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if len(req.Videos) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "videos list is empty"})
		return
	}
	for i := range req.Videos {
		if req.Videos[i].URL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "every item needs a url"})
			return
		}
		applyRequestDefaults(&req.Videos[i])
	}

	batch, err := h.orch.CreateBatch(req.Videos)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Batches outlive the request that started them.
	h.orch.Start(context.Background(), batch.ID)

	c.JSON(http.StatusOK, gin.H{"batch_id": batch.ID})
}

// CheckBatchStatus handles GET /check-batch-status/:id.
func (h *BatchHandler) CheckBatchStatus(c *gin.Context) {
	batch, err := h.reg.Batches.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}

	resp := gin.H{
		"progress":        batch.Progress,
		"current_index":   batch.CurrentIndex,
		"total_files":     batch.TotalCount,
		"is_ready":        batch.Ready,
		"partial":         batch.Partial,
		"completed_files": batch.Completed,
		"failed_files":    batch.Failed,
	}
	if batch.Error != "" {
		resp["error"] = batch.Error
	}
	if batch.Ready {
		resp["filename"] = filepath.Base(batch.ArchivePath)
	}
	c.JSON(http.StatusOK, resp)
}

// DownloadBatch handles GET /download-batch/:id, streaming the archive.
func (h *BatchHandler) DownloadBatch(c *gin.Context) {
	batch, err := h.reg.Batches.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	if !batch.Ready {
		msg := types.ErrNotReady.Error()
		if batch.Finished() && batch.Error != "" {
			msg = batch.Error
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	serveArtifact(c, batch.Dir, filepath.Base(batch.ArchivePath))
}

// CleanupBatch handles POST /cleanup-batch/:id.
func (h *BatchHandler) CleanupBatch(c *gin.Context) {
	id := c.Param("id")
	batch, err := h.reg.Batches.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}

	if err := h.reg.Batches.Delete(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	if err := os.RemoveAll(batch.Dir); err != nil {
		h.log.Warn().Str("batch", id).Err(err).Msg("could not remove batch dir")
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
