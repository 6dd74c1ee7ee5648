package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/catalog"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/config"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/engine"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/ingest"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/platform/logging"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/server"
	wstransport "github.com/AlfredMungaMbaru/polling-station-sub000/internal/transport/websocket"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/version"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := ingest.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupCatalog(cfg *config.Config, clock clockwork.Clock, readiness map[string]server.ReadinessCheck) (catalog.Source, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := catalog.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	readiness["database"] = pool.Ping

	cached := catalog.NewCached(catalog.NewPostgresRepo(pool), cfg.CatalogCacheTTL, clock)
	stopEviction := cached.StartEvictionTimer(1 * time.Minute)

	cleanup := func() {
		stopEviction()
		pool.Close()
	}
	return cached, cleanup
}

func runGracefulShutdown(srv *server.Server, eng *engine.Engine, stopFeed context.CancelFunc, stopSweeper func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopFeed()
		stopSweeper()

		// Drain pending batches so subscribers that survive the restart on
		// another instance have seen everything, then stop the actor.
		eng.FlushAllPendingUpdates()
		eng.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	build := version.Get()
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"version", build.Version,
		"commit", build.Commit,
	)

	readiness := make(map[string]server.ReadinessCheck)

	// Option-label catalog is optional; without it updates carry whatever
	// label the producer supplied.
	var labels catalog.Source
	if cfg.DatabaseURL != "" {
		source, cleanup := setupCatalog(cfg, clock, readiness)
		labels = source
		defer cleanup()
	}

	channels := wstransport.NewFactory(clock)
	eng := engine.New(engine.Config{
		ThrottleInterval:     cfg.ThrottleInterval,
		BatchSize:            cfg.BatchSize,
		QueueCapacity:        cfg.QueueCapacity,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
	}, channels, clock)

	stopSweeper := eng.StartSweeper(clock, cfg.SweepInterval, cfg.MaxIdle)

	// Inbound event feed is optional; without Redis the producer HTTP
	// endpoint is the only event source.
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	if cfg.RedisURL != "" {
		redisClient := setupRedis(context.Background(), cfg)
		defer func() { _ = redisClient.Close() }()
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

		feed := ingest.New(redisClient, eng, labels, cfg.IngestChannel)
		go func() {
			if err := feed.Run(feedCtx); err != nil {
				slog.Error("Ingest feed terminated", "error", err)
			}
		}()
	}

	srv := server.NewServer(cfg, eng, channels, labels, readiness)

	done := runGracefulShutdown(srv, eng, stopFeed, stopSweeper)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
