package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/gofrs/flock"
	"github.com/italolelis/archive_mirror/internal/archive"
	"github.com/italolelis/archive_mirror/internal/config"
	"github.com/italolelis/archive_mirror/internal/dispatch"
	"github.com/italolelis/archive_mirror/internal/http/rest"
	"github.com/italolelis/archive_mirror/internal/job"
	"github.com/italolelis/archive_mirror/internal/logctx"
	"github.com/italolelis/archive_mirror/internal/notifier"
	"github.com/italolelis/archive_mirror/internal/retry"
	"github.com/italolelis/archive_mirror/internal/storage/sqlite"
	"github.com/italolelis/archive_mirror/internal/supervisor"
	"github.com/italolelis/archive_mirror/internal/telemetry"
	"github.com/joho/godotenv"
)

const version = "0.1.0"

func main() {
	// A missing .env file is fine; the environment may be set externally.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("archive mirror starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Single Instance Lock
	//
	// Two daemons sharing one SQLite file would race on claims.
	lock := flock.New(cfg.LockPath)

	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}

	if !locked {
		return fmt.Errorf("another instance holds the lock at %s", cfg.LockPath)
	}
	defer lock.Unlock()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	store := sqlite.NewInstrumentedJobRepository(database, tel)

	// =========================================================================
	// Start Supervisor and Dispatcher
	sup := supervisor.New(store, supervisor.NewExecLauncher(), cfg.WorkerBinary, cfg.DestinationDir, tel)
	defer sup.Close()

	dispatcher := dispatch.New(store, sup, cfg.MaxConcurrent, tel)

	// A finished worker frees a slot; pull the next queued job right away
	// instead of waiting for the ticker.
	sup.OnWorkerExit = func() {
		go func() {
			if _, err := dispatcher.Dispatch(ctx); err != nil {
				logger.Error("failed to dispatch after worker exit", "err", err)
			}
		}()
	}

	// =========================================================================
	// Start Notification
	setupNotificationForSupervisor(ctx, sup, cfg)

	// =========================================================================
	// Start Archive Client
	archiveClient := archive.NewClient(cfg.ArchiveBaseURL, cfg.ArchiveToken, tel, retry.Config{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		InitialDelay:  cfg.Retry.InitialDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
	})

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, store, dispatcher, sup, archiveClient, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"worker_binary", cfg.WorkerBinary,
		"destination_dir", cfg.DestinationDir,
		"max_concurrent", cfg.MaxConcurrent,
		"dispatch_interval", cfg.DispatchInterval.String(),
	)

	// =========================================================================
	// Start Main Loop
	//
	// The ticker is a safety net for jobs enqueued while every slot was busy
	// and for records left behind by a previous run.
	ticker := time.NewTicker(cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			sup.Shutdown(ctx)

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return nil
		case <-ticker.C:
			if _, err := dispatcher.Dispatch(ctx); err != nil {
				logger.Error("error dispatching queued jobs", "err", err)
			}
		}
	}
}

func setupNotificationForSupervisor(ctx context.Context, sup *supervisor.Supervisor, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	notify := func(j job.Job, message string) {
		if notif == nil {
			return
		}

		if notifyErr := notif.Notify(ctx, message); notifyErr != nil {
			logger.Error("failed to send notification", "identifier", j.Identifier, "err", notifyErr)
		}
	}

	go func() {
		for j := range sup.OnJobCompleted {
			logger.Info("download finished", "identifier", j.Identifier, "title", j.Title)

			notify(j, "✅ Download finished: "+j.Title+" ("+j.Identifier+")")
		}
	}()

	go func() {
		for j := range sup.OnJobFailed {
			logger.Error("download failed", "identifier", j.Identifier, "title", j.Title, "reason", j.Error)

			notify(j, "❌ Download failed: "+j.Title+" ("+j.Identifier+"): "+j.Error)
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	store *sqlite.InstrumentedJobRepository,
	dispatcher *dispatch.Dispatcher,
	sup *supervisor.Supervisor,
	archiveClient *archive.Client,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	jobsHandler := rest.NewJobsHandler(store, dispatcher, sup, tel)
	catalogHandler := rest.NewCatalogHandler(archiveClient)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/api/catalog", catalogHandler.Routes())
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", jobsHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
