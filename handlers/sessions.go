package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"downpour/services"
	"downpour/types"
)

// SessionHandler serves session resolution and one-shot start.
type SessionHandler struct {
	sessions *services.SessionManager
	log      zerolog.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(sessions *services.SessionManager, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, log: log}
}

// VideoInfo handles GET /video-info?url=..., resolving metadata
// without creating any record.
func (h *SessionHandler) VideoInfo(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	info, err := h.sessions.Probe(c.Request.Context(), url)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// CreateSession handles POST /create-session. The URL is resolved up front;
// a playlist expands into one item per entry.
func (h *SessionHandler) CreateSession(c *gin.Context) {
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

	session, err := h.sessions.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"video_info": session.Info,
	})
}

// GetSession handles GET /session/:id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// StartSession handles POST /start-session/:id, launching the
// session's batch. Starting twice is a no-op that reports the same batch.
func (h *SessionHandler) StartSession(c *gin.Context) {
	// The batch outlives this request.
	session, err := h.sessions.Start(context.Background(), c.Param("id"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"batch_id":   session.BatchID,
	})
}
