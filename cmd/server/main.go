package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Brownie44l1/crop-disease-api/internal/artifact"
	"github.com/Brownie44l1/crop-disease-api/internal/config"
	"github.com/Brownie44l1/crop-disease-api/internal/handlers"
	"github.com/Brownie44l1/crop-disease-api/internal/logging"
	"github.com/Brownie44l1/crop-disease-api/internal/metrics"
	"github.com/Brownie44l1/crop-disease-api/internal/model"
	"github.com/Brownie44l1/crop-disease-api/internal/preprocess"
	"github.com/Brownie44l1/crop-disease-api/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("crop-disease-api v%s\n", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "crop-disease-api failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.NewLoader(configPath).Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := artifact.NewFetcher(artifact.Options{
		Timeout: cfg.Model.DownloadTimeout,
		Retries: cfg.Model.DownloadRetries,
		Logger:  logger,
	})
	if _, err := fetcher.Ensure(ctx, cfg.Model.Path, cfg.Model.URL); err != nil {
		return err
	}

	logger.Info("loading model", "path", cfg.Model.Path, "metadata", cfg.Model.MetadataPath)
	modelServer, err := model.NewServer(model.Options{
		ModelPath:    cfg.Model.Path,
		MetadataPath: cfg.Model.MetadataPath,
		LibraryPath:  cfg.Model.LibraryPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize model server: %w", err)
	}
	defer modelServer.Close()

	uploads, err := storage.NewUploads(cfg.Upload.Dir, logger)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	normalizer := preprocess.NewNormalizer(preprocess.Options{
		Size:      modelServer.Metadata.ImageSize,
		MaxPixels: cfg.Upload.MaxPixels,
		Logger:    logger,
		OnCleanupError: func(string, error) {
			if m != nil {
				m.CleanupFailed()
			}
		},
	})

	handler := handlers.NewHandler(handlers.Options{
		Normalizer:     normalizer,
		Classifier:     modelServer,
		Metadata:       modelServer.Metadata,
		Uploads:        uploads,
		Metrics:        m,
		Logger:         logger,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		Version:        version,
	})

	router := handlers.NewRouter(handlers.RouterOptions{
		Handler:      handler,
		Logger:       logger,
		Metrics:      m,
		MetricsPath:  cfg.Metrics.Path,
		AllowOrigins: cfg.CORS.AllowOrigins,
		Debug:        strings.EqualFold(cfg.Log.Level, "debug"),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server starting",
		"addr", srv.Addr,
		"version", version,
		"classes", len(modelServer.Metadata.Classes),
	)
	logger.Info("endpoints",
		"health", "GET /api/health",
		"info", "GET /api/info",
		"predict", "POST /api/predict (multipart field 'file')",
		"tensor", "POST /api/predict/tensor",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
