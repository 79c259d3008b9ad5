package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"billfold/internal/amqp"
	"billfold/internal/config"
	apphttp "billfold/internal/http"
	"billfold/internal/identity"
	"billfold/internal/ocr"
	"billfold/internal/storage"
	"billfold/internal/tempstore"
)

func main() {
	// Load .env for local development; ignore errors in production.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	sessions := identity.NewStore(cfg.SessionTTL)
	defer sessions.Close()

	assets, err := tempstore.New(cfg.UploadDir)
	if err != nil {
		logger.Error("Failed to initialize upload store", "error", err, "dir", cfg.UploadDir)
		os.Exit(1)
	}

	tracker := ocr.NewTracker(cfg.OCRTokenTTL)
	defer tracker.Close()
	registry := ocr.NewRegistry()

	engine := ocr.NewEngineClient(cfg.OCRWebhookURL, 30*time.Second)
	dispatcher := ocr.NewDispatcher(assets, tracker, engine, 30*time.Second)
	if cfg.OCRWebhookURL == "" {
		logger.Info("OCR engine disabled - no OCR_WEBHOOK_URL provided, forwards will fail")
	}

	// AMQP is optional; without it sync messages and audit events are
	// skipped and the worker's pending sweep does the syncing.
	var (
		amqpClient *amqp.Client
		audit      ocr.AuditPublisher
		syncPub    apphttp.SyncPublisher
	)
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		audit = amqpClient
		syncPub = amqpClient
		logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	ingestor := ocr.NewIngestor(tracker, registry, audit)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Repo:           repo,
		Sessions:       sessions,
		Registry:       registry,
		Dispatcher:     dispatcher,
		Ingestor:       ingestor,
		Sync:           syncPub,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	srv.ReadTimeout = 10 * time.Second
	// WriteTimeout stays unset: the event stream endpoint holds its
	// response open for the lifetime of the subscription.
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		dispatcher.Wait()
		cancel()
	}()

	logger.Info("Starting billfold server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
