package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ayash-Bera/arena/internal/api/handlers"
	"github.com/Ayash-Bera/arena/internal/app"
	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/middleware"
	"github.com/Ayash-Bera/arena/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (defaults to ./config.yaml)")
	migrationsPath := flag.String("migrations", "migrations", "Directory of SQL migrations")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	logger := utils.GetLogger()
	logger.Info("Starting arena server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	arena, err := app.Build(cfg, app.Options{MigrationsPath: *migrationsPath}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize arena")
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	// The memory queue only exists in this process, so its consumer must too.
	if cfg.Queue.Driver == "memory" && arena.Extractor != nil {
		worker, err := arena.Worker()
		if err != nil {
			logger.WithError(err).Fatal("Failed to start extraction worker")
		}
		go func() {
			if err := worker.Run(workerCtx); err != nil {
				logger.WithError(err).Error("Extraction worker stopped")
			}
		}()
	}

	// Pending applications held in memory are only visible to this process.
	sweepsDone := make(chan struct{})
	if arena.LocalPending() {
		go func() {
			defer close(sweepsDone)
			arena.RunSweeps(workerCtx, cfg.Learning.SweepInterval)
		}()
	} else {
		close(sweepsDone)
	}

	handler := handlers.NewArenaHandler(arena.Service, arena.Health, logger)
	router := handlers.SetupRouter(handler, middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute), arena.Metrics)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down arena server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	stopWorker()
	<-sweepsDone
	arena.Close(shutdownCtx)

	logger.Info("Arena server stopped")
}
