package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/ondrasimku/tg-file-relay/internal/auth"
	"github.com/ondrasimku/tg-file-relay/internal/config"
	"github.com/ondrasimku/tg-file-relay/internal/http/handler"
)

func NewRouter(relay handler.Downloader, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(recovery(logger), requestID(), accessLog(logger), securityHeaders())

	healthHandler := handler.NewHealthHandler()
	downloadHandler := handler.NewDownloadHandler(relay, cfg.Relay.AllowOrigin, logger)

	router.GET("/", healthHandler.Root)
	router.GET("/healthz", healthHandler.Health)

	downloadChain := []gin.HandlerFunc{}
	if cfg.Auth.RateLimitPerMinute > 0 {
		downloadChain = append(downloadChain, rateLimit(cfg.Auth.RateLimitPerMinute))
	}
	downloadChain = append(downloadChain, auth.APIKeyMiddleware(cfg.Auth.APIKey), downloadHandler.Download)

	router.GET("/download", downloadChain...)

	return router
}
