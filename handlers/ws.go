package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	ws "downpour/websocket"
)

// ProgressSocket handles GET /ws/progress/:id, upgrading the connection
// and subscribing it to updates for one job/batch id ("all" for every id).
func ProgressSocket(hub ws.Hub, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		conn, err := ws.GetUpgrader().Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := ws.NewClient(hub, conn, id)
		hub.RegisterClient(client)
		client.StartPumps()
	}
}
