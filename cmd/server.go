package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"downpour/config"
	"downpour/extractor"
	"downpour/handlers"
	"downpour/middleware"
	"downpour/registry"
	"downpour/services"
	"downpour/transcode"
	ws "downpour/websocket"
)

// StartWebServer wires the services together and serves the HTTP API.
func StartWebServer(port string) error {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	root := config.GetDownloadsDir()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create downloads dir: %w", err)
	}

	reg := registry.New()
	ex := extractor.NewYTDLP(config.GetYTDLPPath(), log)
	tc := transcode.NewFFmpeg(config.GetFFmpegPath(), log)

	hub := ws.NewHub(log)
	go hub.Run()

	worker := services.NewWorker(reg, ex, tc, hub, root, log)
	orch := services.NewOrchestrator(reg, worker, hub, root, log)
	sessions := services.NewSessionManager(reg, ex, orch, log)

	sweeper := services.NewSweeper(reg, root, config.GetRetention(), config.GetSweepInterval(), log)
	sweeper.Start(context.Background())

	router := setupRouter(reg, worker, orch, sessions, hub, log)

	log.Info().Str("port", port).Str("downloads", root).Msg("server starting")
	return router.Run(":" + port)
}

func setupRouter(
	reg *registry.Registry,
	worker *services.Worker,
	orch *services.Orchestrator,
	sessions *services.SessionManager,
	hub ws.Hub,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS())

	downloads := handlers.NewDownloadHandler(reg, worker, log)
	batches := handlers.NewBatchHandler(reg, orch, log)
	sessionH := handlers.NewSessionHandler(sessions, log)

	router.GET("/health", handlers.Health(reg))
	router.GET("/video-info", sessionH.VideoInfo)

	router.POST("/start-download", downloads.StartDownload)
	router.GET("/check-status/:id", downloads.CheckStatus)
	router.GET("/download-file/:id", downloads.DownloadFile)
	router.POST("/cleanup/:id", downloads.Cleanup)

	router.POST("/start-batch-download", batches.StartBatch)
	router.GET("/check-batch-status/:id", batches.CheckBatchStatus)
	router.GET("/download-batch/:id", batches.DownloadBatch)
	router.POST("/cleanup-batch/:id", batches.CleanupBatch)

	router.POST("/create-session", sessionH.CreateSession)
	router.GET("/session/:id", sessionH.GetSession)
	router.POST("/start-session/:id", sessionH.StartSession)

	router.GET("/ws/progress/:id", handlers.ProgressSocket(hub, log))

	return router
}
