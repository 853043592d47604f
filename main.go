package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hlsvault/assets"
	"hlsvault/config"
	"hlsvault/encoder"
	"hlsvault/job"
	"hlsvault/logger"
	"hlsvault/media"
	"hlsvault/playback"
	"hlsvault/routes"
	"hlsvault/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Init(cfg.LogFile, true); err != nil {
		logger.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()
	if lvl, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warnf("Ignoring log level: %v", err)
	}
	logger.Info("Starting hlsvault server initialization")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.DataDir, cfg.TempDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	// Object store: one shared client for every component.
	logger.Debugf("Opening %s storage backend", cfg.Storage.Backend)
	store, storeCloser, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}
	defer storeCloser.Close()
	if err := store.EnsureBucket(ctx, cfg.Storage.Bucket, cfg.Storage.PublicRead); err != nil {
		logger.Fatalf("Failed to ensure bucket %s: %v", cfg.Storage.Bucket, err)
	}
	logger.Infof("Storage backend %s ready (bucket %s)", cfg.Storage.Backend, cfg.Storage.Bucket)

	logger.Debug("Initializing asset database")
	assetStore, err := assets.OpenPebble(cfg.AssetsDBPath(), nil)
	if err != nil {
		logger.Fatalf("Failed to initialize asset store: %v", err)
	}
	defer assetStore.Close()
	logger.Info("Asset database initialized successfully")

	pipeline := job.NewPipeline(cfg, store, assetStore, encoder.NewFFmpeg(cfg.FFmpegPath))
	scheduler := job.NewScheduler(pipeline, cfg.MaxConcurrentJobs)
	composer := playback.NewComposer(cfg, store)
	service := media.NewService(cfg, store, assetStore, scheduler, composer)

	api := &routes.API{
		Media:    service,
		Health:   assetStore.CheckHealth,
		InFlight: func() int { return len(scheduler.InFlight()) },
	}
	if local, ok := store.(*storage.Local); ok {
		api.Local = local
	}

	logger.Infof("Starting cleanup routine (FAILED records older than %v)", cfg.RecordRetention)
	go cleanupRoutine(ctx, assetStore, cfg.RecordRetention)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("hlsvault server starting on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown: %v", err)
	}
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Jobs still running at shutdown were cancelled: %v", err)
	}
	logger.Info("hlsvault server stopped")
}

// cleanupRoutine removes old FAILED asset records once a day.
func cleanupRoutine(ctx context.Context, st assets.Store, maxAge time.Duration) {
	if maxAge <= 0 {
		logger.Info("Record retention disabled; cleanup routine not started")
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cleanup routine stopped due to context cancellation")
			return
		case <-ticker.C:
			logger.Debugf("Cleaning up FAILED records older than %v", maxAge)
			n, err := st.CleanupOldRecords(ctx, maxAge)
			if err != nil {
				logger.Errorf("Failed to cleanup old asset records: %v", err)
				continue
			}
			logger.Infof("Scheduled cleanup removed %d FAILED records", n)
		}
	}
}
