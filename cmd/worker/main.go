package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/episode-engine/internal/app"
	"github.com/jwebster45206/episode-engine/internal/config"
	"github.com/jwebster45206/episode-engine/internal/logger"
	"github.com/jwebster45206/episode-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Episode Engine Worker",
		"environment", cfg.Environment,
		"storage_backend", cfg.StorageBackend)

	startCtx, startCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer startCancel()

	rt, err := app.Build(startCtx, cfg, log)
	if err != nil {
		log.Error("Failed to start runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()
	log.Info("Runtime initialized successfully")

	w := worker.New(rt.Queue, rt.Router, rt.Broadcaster, rt.Redis, log, cfg.WorkerID).
		WithPollTimeout(cfg.WorkerPollTimeout).
		WithLockTTL(cfg.WorkerLockTTL).
		WithBatchSize(cfg.WorkerBatchSize)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
		}
	}()

	log.Info("Worker started, waiting for requests...", "worker_id", w.ID())

	<-quit
	log.Info("Worker shutdown signal received")
	w.Stop()

	// Give the worker time to finish its current request
	select {
	case <-done:
	case <-time.After(cfg.WorkerPollTimeout + 5*time.Second):
		log.Warn("Worker did not stop in time")
	}

	log.Info("Worker exited")
}
