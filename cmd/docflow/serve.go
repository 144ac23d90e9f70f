package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/em1l4k/docflow/internal/api"
	"github.com/em1l4k/docflow/internal/cache"
	"github.com/em1l4k/docflow/internal/config"
	"github.com/em1l4k/docflow/internal/logging"
	"github.com/em1l4k/docflow/internal/notify"
	"github.com/em1l4k/docflow/internal/rbac"
	"github.com/em1l4k/docflow/internal/repository"
	"github.com/em1l4k/docflow/internal/stats"
	"github.com/em1l4k/docflow/internal/storage"
	"github.com/em1l4k/docflow/internal/tls"
	"github.com/em1l4k/docflow/internal/workflow"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting docflow", "environment", cfg.Environment, "version", version)

	pool, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("database connected")

	store := repository.NewPostgres(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	// the roster directory and the stats service share the sweep loop below
	actorCache := cache.New[string, rbac.ActorEntry](cfg.Cache.ActorTTL)
	statsCache := cache.New[string, any](cfg.Cache.StatsTTL)

	dir := rbac.NewDirectory(rbac.NewCSVRoster(cfg.Roster.Path, logger), actorCache, cfg.Cache.ActorTTL, logger)
	active, err := dir.Reload(ctx)
	if err != nil {
		return err
	}
	logger.Info("roster loaded", "active", active)

	var notifier workflow.Notifier
	if cfg.Notifier.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notifier.WebhookURL)
		logger.Info("webhook notifier configured", "url", cfg.Notifier.WebhookURL)
	} else {
		notifier = notify.NewLogNotifier(logger.With("component", "notify"))
	}

	wf := workflow.NewService(store, dir, notifier, logger.With("component", "workflow"))
	statsSvc := stats.NewService(store, statsCache, cfg.Cache.StatsTTL)

	var blobs *storage.BlobStore
	if cfg.Storage.AccessKey != "" {
		blobs, err = storage.NewBlobStore(ctx, storage.Config{
			Endpoint:   cfg.Storage.Endpoint,
			AccessKey:  cfg.Storage.AccessKey,
			SecretKey:  cfg.Storage.SecretKey,
			Bucket:     cfg.Storage.Bucket,
			UseSSL:     cfg.Storage.UseSSL,
			PresignTTL: cfg.Storage.PresignTTL,
		})
		if err != nil {
			return err
		}
		logger.Info("object store connected", "bucket", cfg.Storage.Bucket)
	} else {
		logger.Warn("object store not configured, uploads disabled")
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go actorCache.Run(sweepCtx, cfg.Cache.SweepInterval)
	go statsCache.Run(sweepCtx, cfg.Cache.SweepInterval)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	if cfg.Tracing.Enable {
		shutdownTracing, err := initTracing(ctx)
		if err != nil {
			return err
		}
		defer shutdownTracing()
		e.Use(otelecho.Middleware("docflow"))
		logger.Info("tracing enabled")
	}

	srv := api.NewServer(wf, statsSvc, dir, store, blobs, logger.With("component", "api"), version)
	e.GET("/healthz", srv.HandleHealth)
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(api.RequireActor)
	srv.RegisterHandlers(apiGroup)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", cfg.Server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if err := ensureCertificate(cfg, logger); err != nil {
				serverErrors <- err
				return
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return err
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("server close error", "error", err)
			}
		}
		logger.Info("server stopped gracefully")
	}
	return nil
}

func ensureCertificate(cfg *config.Config, logger *logging.Logger) error {
	if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
		logger.Error("TLS enabled but cert/key file not provided")
		return os.ErrNotExist
	}
	if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
		if len(cfg.TLS.Hostnames) > 0 {
			if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
				logger.Error("failed to generate self-signed cert", "error", err)
				return err
			}
		}
	}
	return nil
}

func initTracing(ctx context.Context) (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}, nil
}
