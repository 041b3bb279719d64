package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "streamgate/internal/api/http"
	"streamgate/internal/app"
	"streamgate/internal/domain/ports"
	"streamgate/internal/metrics"
	mongorepo "streamgate/internal/repository/mongo"
	redisrepo "streamgate/internal/repository/redis"
	"streamgate/internal/services/session"
	"streamgate/internal/services/torrent/engine"
	"streamgate/internal/services/torrent/engine/anacrolix"
	"streamgate/internal/telemetry"
	"streamgate/internal/usecase"
)

const serviceName = "streamgate"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Options{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.Bool("restrictDataDir", cfg.RestrictDataDir),
		slog.Bool("snapshotCache", cfg.RedisURL != ""),
		slog.Int64("minDiskSpaceBytes", cfg.MinDiskSpaceBytes),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	repo := mongorepo.NewRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	var cache ports.SnapshotCache
	var closeCache func() error
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err := redisrepo.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis not reachable, snapshot cache disabled", slog.String("error", err.Error()))
		} else {
			cache = redisrepo.NewSnapshotCache(redisClient, "", cfg.SnapshotTTL)
			closeCache = redisClient.Close
			logger.Info("redis connected")
		}
	}

	if err := os.MkdirAll(cfg.TorrentDataDir, 0o755); err != nil {
		logger.Error("data dir create failed", slog.String("dir", cfg.TorrentDataDir), slog.String("error", err.Error()))
		os.Exit(1)
	}

	engines := engine.NewHandle(func() (ports.Engine, error) {
		e, err := anacrolix.New(anacrolix.Config{
			DataDir:          cfg.TorrentDataDir,
			ProgressInterval: cfg.ProgressInterval,
			Logger:           logger,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	}, logger)

	registry := session.NewRegistry()
	hub := apihttp.NewHub(logger)
	go hub.Run()

	dirs := usecase.Directories{Root: cfg.TorrentDataDir, Restrict: cfg.RestrictDataDir}
	progress := usecase.ProgressPublisher{
		Registry:  registry,
		Publisher: hub,
		Cache:     cache,
		Repo:      repo,
		Logger:    logger,
		Now:       time.Now,
		Base:      rootCtx,
	}
	addUC := &usecase.AddTorrent{
		Engines:             engines,
		Registry:            registry,
		Progress:            progress,
		Publisher:           hub,
		Repo:                repo,
		Dirs:                dirs,
		Logger:              logger,
		Now:                 time.Now,
		PreloadBytes:        cfg.PreloadBytes,
		PreloadPollInterval: cfg.PreloadPoll,
		PreloadTimeout:      cfg.PreloadTimeout,
		AttachTimeout:       cfg.AttachTimeout,
	}
	pauseUC := usecase.PauseTorrent{Engines: engines, Registry: registry, Progress: progress, Logger: logger}
	resumeUC := usecase.ResumeTorrent{Engines: engines, Registry: registry, Progress: progress, Logger: logger}
	streamUC := usecase.StreamTorrent{
		Engines:        engines,
		Registry:       registry,
		Exclusive:      usecase.Exclusivity{Registry: registry, Publisher: hub, Logger: logger},
		Progress:       progress,
		Repo:           repo,
		Dirs:           dirs,
		Logger:         logger,
		ReadaheadBytes: cfg.StreamReadahead,
		RegistryWait:   cfg.RegistryWait,
	}
	restoreUC := &usecase.RestoreTorrents{
		Engines:       engines,
		Registry:      registry,
		Progress:      progress,
		Repo:          repo,
		Dirs:          dirs,
		Logger:        logger,
		Now:           time.Now,
		AttachTimeout: cfg.AttachTimeout,
		Concurrency:   cfg.RestoreConcurrency,
	}
	recovery := usecase.EngineRecovery{Registry: registry, Restore: restoreUC, Logger: logger}
	engines.OnDiscard(func() {
		recovery.Recover(rootCtx)
	})
	deleteUC := usecase.DeleteTorrent{
		Engines:  engines,
		Registry: registry,
		Repo:     repo,
		Cache:    cache,
		Dirs:     dirs,
		Logger:   logger,
	}

	// Restore in the background so the HTTP server starts immediately.
	go func() {
		results, err := restoreUC.FromRepository(rootCtx)
		if err != nil {
			logger.Warn("restore: list failed", slog.String("error", err.Error()))
			return
		}
		if len(results) > 0 {
			logger.Info("restore finished", slog.Int("records", len(results)))
		}
	}()

	diskUC := usecase.DiskPressure{
		Registry:     registry,
		Pause:        pauseUC,
		Resume:       resumeUC,
		Logger:       logger,
		DataDir:      cfg.TorrentDataDir,
		MinFreeBytes: cfg.MinDiskSpaceBytes,
	}
	go diskUC.Run(rootCtx)

	go updateSessionMetrics(rootCtx, registry)

	handler := apihttp.NewServer(addUC,
		apihttp.WithLogger(logger),
		apihttp.WithHub(hub),
		apihttp.WithStreamTorrent(streamUC),
		apihttp.WithPauseTorrent(pauseUC),
		apihttp.WithResumeTorrent(resumeUC),
		apihttp.WithDeleteTorrent(deleteUC),
		apihttp.WithRestoreTorrents(restoreUC),
		apihttp.WithSessions(registry),
		apihttp.WithSnapshotCache(cache),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	handler.Close()
	hub.Close()
	if err := engines.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	if closeCache != nil {
		if err := closeCache(); err != nil {
			logger.Warn("redis close error", slog.String("error", err.Error()))
		}
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// updateSessionMetrics refreshes gauges from the registry's last snapshots.
func updateSessionMetrics(ctx context.Context, registry *session.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := registry.Stats()
			metrics.ActiveSessions.Set(float64(stats.Active))
			metrics.AddingSessions.Set(float64(stats.Adding))
			metrics.StoppedSessions.Set(float64(stats.Stopped))

			var speed, peers int64
			for _, entry := range registry.List() {
				if entry.Snapshot == nil || entry.Snapshot.IsPaused {
					continue
				}
				speed += entry.Snapshot.SpeedBytesPerSec
				peers += int64(entry.Snapshot.Peers)
			}
			metrics.DownloadSpeedBytes.Set(float64(speed))
			metrics.PeersConnected.Set(float64(peers))
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	handlerOpts := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
