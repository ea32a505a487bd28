package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/ondrasimku/tg-file-relay/internal/config"
	"github.com/ondrasimku/tg-file-relay/internal/content/cdn"
	httphandler "github.com/ondrasimku/tg-file-relay/internal/http"
	"github.com/ondrasimku/tg-file-relay/internal/log"
	"github.com/ondrasimku/tg-file-relay/internal/relay"
	"github.com/ondrasimku/tg-file-relay/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewLogger(cfg.Log.Level, cfg.Log.Format)
	gin.SetMode(cfg.GinMode)

	resolver, err := telegram.NewResolver(cfg.Telegram.BotToken, cfg.Telegram.ServerURL)
	if err != nil {
		logger.Error("Failed to initialize Telegram client", "error", err)
		os.Exit(1)
	}

	source, err := cdn.NewCDNSource(resolver.FileBaseURL(), &http.Client{})
	if err != nil {
		logger.Error("Failed to initialize content source", "error", err)
		os.Exit(1)
	}

	fileRelay := relay.New(resolver, source, relay.Options{
		MetadataTimeout:    cfg.Relay.MetadataTimeout,
		ContentTimeout:     cfg.Relay.ContentTimeout,
		DefaultFilename:    cfg.Relay.DefaultFilename,
		DefaultContentType: cfg.Relay.DefaultContentType,
	}, logger)

	router := httphandler.NewRouter(fileRelay, cfg, logger)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: router,
	}

	go func() {
		logger.Info("Starting file relay", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exited")
}
