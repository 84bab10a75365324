package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"downpour/registry"
	"downpour/services"
	"downpour/types"
)

// DownloadHandler serves the single-download polling protocol.
type DownloadHandler struct {
	reg    *registry.Registry
	worker *services.Worker
	log    zerolog.Logger
}

// NewDownloadHandler creates a download handler.
func NewDownloadHandler(reg *registry.Registry, worker *services.Worker, log zerolog.Logger) *DownloadHandler {
	return &DownloadHandler{reg: reg, worker: worker, log: log}
}

// StartDownload handles POST /start-download. It registers a job, kicks off
// the download in the background and returns the id to poll.
func (h *DownloadHandler) StartDownload(c *gin.Context) {
	var req types.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	applyRequestDefaults(&req)

	job, err := h.worker.CreateJob(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// The download outlives this request; the request context would kill
	// the subprocess as soon as the response is written.
	h.worker.Start(context.Background(), job.ID)

	c.JSON(http.StatusOK, gin.H{"download_id": job.ID})
}

// CheckStatus handles GET /check-status/:id.
func (h *DownloadHandler) CheckStatus(c *gin.Context) {
	job, err := h.reg.Jobs.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	resp := gin.H{
		"progress": job.Progress,
		"title":    job.Title,
		"is_ready": job.Ready(),
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.Ready() {
		resp["filename"] = job.Artifact
	}
	c.JSON(http.StatusOK, resp)
}

// DownloadFile handles GET /download-file/:id, streaming the artifact
// once the job is ready.
func (h *DownloadHandler) DownloadFile(c *gin.Context) {
	job, err := h.reg.Jobs.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}
	if !job.Ready() {
		err := types.ErrNotReady
		if job.Status == types.JobStatusFailed {
			err = errors.New(job.Error)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	serveArtifact(c, job.Dir, job.Artifact)
}

// Cleanup handles POST /cleanup/:id, removing the record and its
// artifacts. Deleting an unknown id is a 404.
func (h *DownloadHandler) Cleanup(c *gin.Context) {
	id := c.Param("id")
	job, err := h.reg.Jobs.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	if err := h.reg.Jobs.Delete(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}
	if err := os.RemoveAll(job.Dir); err != nil {
		h.log.Warn().Str("job", id).Err(err).Msg("could not remove job dir")
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func applyRequestDefaults(req *types.DownloadRequest) {
	if req.Format == "" {
		req.Format = types.MediaVideo
	}
	if req.Quality == "" {
		req.Quality = "highest"
	}
	if req.FileFormat == "" {
		if req.Format == types.MediaAudio {
			req.FileFormat = "mp3"
		} else {
			req.FileFormat = "mp4"
		}
	}
}
