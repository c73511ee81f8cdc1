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
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iconidentify/tokgrab/internal/api"
	"github.com/iconidentify/tokgrab/internal/api/handler"
	"github.com/iconidentify/tokgrab/internal/config"
	"github.com/iconidentify/tokgrab/internal/downloader"
	"github.com/iconidentify/tokgrab/internal/events"
	"github.com/iconidentify/tokgrab/internal/extractor"
	"github.com/iconidentify/tokgrab/internal/logging"
	"github.com/iconidentify/tokgrab/internal/mediacache"
	"github.com/iconidentify/tokgrab/internal/metrics"
	"github.com/iconidentify/tokgrab/internal/repository"
	"github.com/iconidentify/tokgrab/internal/service"
	"github.com/iconidentify/tokgrab/internal/worker"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tokgrab %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log.Level)
	slog.SetDefault(logger)

	logger.Info("starting tokgrab",
		"version", Version,
		"build_time", BuildTime,
		"store", cfg.Store.Driver,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize dependencies
	downloads, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer downloads.Close()

	jobRepo := repository.NewInMemoryJobRepository()
	chain := extractor.NewDefaultChain(cfg.Providers, m, logger)
	dl := downloader.NewHTTPDownloader(cfg.Download, m, logger)

	var cache mediacache.Cache = mediacache.Nop{}
	if cfg.Cache.Enabled() {
		c, err := mediacache.NewMinIO(ctx, cfg.Cache, logger)
		if err != nil {
			return fmt.Errorf("open media cache: %w", err)
		}
		cache = c
	}

	feed := events.NewFeed(cfg.Events.FeedSize, logger)
	publisher := events.Fanout{feed}
	if cfg.Events.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("connect events: %w", err)
		}
		publisher = append(publisher, p)
	}
	defer publisher.Close()

	downloadSvc := service.NewDownloadService(
		downloads,
		jobRepo,
		chain,
		dl,
		cache,
		publisher,
		m,
		cfg.Store.RecentLimit,
		logger,
	)

	// Initialize handlers
	downloadHandler := handler.NewDownloadHandler(downloadSvc, logger)
	healthHandler := handler.NewHealthHandler(downloads, jobRepo, cfg.Store.Driver)
	eventHandler := handler.NewEventHandler(feed, logger)

	router := api.NewRouter(
		downloadHandler,
		healthHandler,
		eventHandler,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cfg.RateLimit,
		logger,
	)

	pool := worker.NewPool(
		worker.Config{
			Workers:      cfg.Worker.Count,
			PollInterval: cfg.Worker.PollInterval,
			Metrics:      m,
		},
		jobRepo,
		downloadSvc,
		logger,
	)
	downloadSvc.OnEnqueue(pool.Wake)

	if _, _, err := downloadSvc.Recover(ctx); err != nil {
		return fmt.Errorf("recover downloads: %w", err)
	}
	pool.Start()

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr, "providers", chain.Providers())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new requests
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Interrupted records stay pending and are requeued on the next start
	if err := pool.Stop(cfg.Worker.ShutdownTimeout); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (repository.DownloadRepository, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return repository.NewPostgresDownloadRepository(ctx, cfg.PostgresDSN, logger)
	case config.DriverMemory:
		return repository.NewInMemoryDownloadRepository(), nil
	default:
		return repository.NewSQLiteDownloadRepository(cfg.SQLitePath, logger)
	}
}
