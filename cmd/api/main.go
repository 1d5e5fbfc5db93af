package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/episode-engine/internal/app"
	"github.com/jwebster45206/episode-engine/internal/config"
	"github.com/jwebster45206/episode-engine/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Episode Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"storage_backend", cfg.StorageBackend,
		"catalog_dir", cfg.CatalogDir)

	startCtx, startCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer startCancel()

	rt, err := app.Build(startCtx, cfg, log)
	if err != nil {
		log.Error("Failed to start runtime", "error", err)
		os.Exit(1)
	}
	log.Info("Runtime initialized successfully")

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     rt.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the SSE relay holds connections open
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	rt.Close()
	log.Info("Server exited")
}
