package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cybvr/Juju2026/internal/app"
	"github.com/Cybvr/Juju2026/internal/config"
	"github.com/Cybvr/Juju2026/internal/ratelimit"
	"github.com/Cybvr/Juju2026/internal/server"
	"github.com/Cybvr/Juju2026/internal/util"
	"github.com/Cybvr/Juju2026/pkg/ai"
	"github.com/Cybvr/Juju2026/pkg/generate"
	"github.com/Cybvr/Juju2026/pkg/queue"
	"github.com/Cybvr/Juju2026/pkg/storage"
	"github.com/Cybvr/Juju2026/pkg/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("JUJU_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// persistence
	var dataStore store.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			util.Fatal("failed to init postgres store", "err", err)
		}
		dataStore = gormStore
	} else {
		logger.Warn("no databaseURL configured, using in-memory store")
		dataStore = store.NewMemoryStore()
	}

	sessionTTL := time.Duration(cfg.SessionTTLMinutes) * time.Minute
	var sessions store.SessionStore
	switch {
	case cfg.RedisAddr != "":
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	default:
		sessions = store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL)
	}

	// model gateway
	client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		util.Fatal("failed to init gemini client", "err", err)
	}
	gateway := ai.NewGateway(client, cfg.ChatModel)

	// image generation pipeline
	var feed store.Feed
	if cfg.RedisAddr != "" {
		feed = store.NewRedisFeed(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		feed = store.NewMemoryFeed()
	}

	var artifacts storage.ArtifactStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		artifacts = minioStore
	} else {
		logger.Warn("no minioEndpoint configured, using in-memory artifact store")
		artifacts = storage.NewMemoryArtifactStore()
	}

	var backend generate.ImageBackend
	if cfg.ImageModel == "stub" {
		backend = generate.StubBackend{}
	} else {
		backend = generate.NewGeminiBackend(client, cfg.ImageModel)
	}
	worker := generate.NewWorker(dataStore, feed, artifacts, backend)

	var dispatcher generate.Dispatcher
	if cfg.RedisAddr != "" {
		jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.QueueStream,
			Group:    cfg.QueueGroup,
		})
		if err != nil {
			util.Fatal("failed to init job queue", "err", err)
		}
		queueDispatcher := generate.NewQueueDispatcher(jobQueue)
		queueDispatcher.StartConsumers(ctx, worker, cfg.QueueConcurrency)
		dispatcher = queueDispatcher
	} else {
		dispatcher = generate.NewLocalDispatcher(ctx, worker, cfg.QueueConcurrency)
	}

	orchestrator, err := app.New(app.Config{
		Store:      dataStore,
		Gateway:    gateway,
		Dispatcher: dispatcher,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.RateLimitPerMinute, time.Minute)
	} else {
		limiter, err = ratelimit.NewLocalFixedWindowLimiter(cfg.RateLimitPerMinute, time.Minute)
	}
	if err != nil {
		util.Fatal("failed to init rate limiter", "err", err)
	}

	httpServer := server.New(server.Config{
		App:      orchestrator,
		Store:    dataStore,
		Sessions: sessions,
		Feed:     feed,
		Limiter:  limiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event streams stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("juju server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
