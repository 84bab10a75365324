package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"downpour/registry"
)

var startTime = time.Now()

// Health handles GET /health.
func Health(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(startTime).Round(time.Second).String(),
			"jobs":     reg.Jobs.Len(),
			"batches":  reg.Batches.Len(),
			"sessions": reg.Sessions.Len(),
		})
	}
}
