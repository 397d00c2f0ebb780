package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mama165/sdk-go/logs"
	"github.com/tasukuchiba/ifocus/internal/auth"
	"github.com/tasukuchiba/ifocus/internal/blob"
	"github.com/tasukuchiba/ifocus/internal/cache"
	"github.com/tasukuchiba/ifocus/internal/config"
	"github.com/tasukuchiba/ifocus/internal/handlers"
	"github.com/tasukuchiba/ifocus/internal/middleware"
	"github.com/tasukuchiba/ifocus/internal/seed"
	"github.com/tasukuchiba/ifocus/internal/service"
	"github.com/tasukuchiba/ifocus/internal/storage"
	"github.com/tasukuchiba/ifocus/internal/websocket"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ストレージの初期化
	store, cleanup, err := initStorage(cfg, log)
	if err != nil {
		return exitRuntime, err
	}
	defer cleanup()

	blobs, err := blob.Open(cfg.BlobPath, cfg.BaseURL(), log)
	if err != nil {
		return exitRuntime, err
	}
	defer blobs.Close()

	catalogCache, closeCache, err := initCache(ctx, cfg, log)
	if err != nil {
		return exitRuntime, err
	}
	defer closeCache()

	// サービスの初期化
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.IDTokenTTL, cfg.RefreshTokenTTL)
	catalog := service.NewCatalogService(store, catalogCache, cfg.CacheTTL, log)
	chats := service.NewChatService(store, blobs, nil, log)

	if cfg.SeedCatalog != "" {
		courses, err := seed.Load(cfg.SeedCatalog)
		if err != nil {
			return exitConfig, err
		}
		added, err := catalog.Seed(ctx, courses)
		if err != nil {
			return exitRuntime, fmt.Errorf("seed catalog: %w", err)
		}
		log.Info("Catalog seeded", "file", cfg.SeedCatalog, "added", added)
	}

	// WebSocket Hubの初期化と起動
	hub := websocket.NewHub(chats, issuer, log)
	chats.SetPublisher(hub)
	go hub.Run(ctx)

	router := handlers.Router{
		Auth:    handlers.NewAuthHandler(service.NewAuthService(store, issuer, log), log),
		Users:   handlers.NewUserHandler(service.NewUserService(store, blobs, log), log),
		Courses: handlers.NewCourseHandler(catalog, log),
		Chats:   handlers.NewChatHandler(chats, log, cfg.MaxUploadBytes),
		Uploads: handlers.NewUploadHandler(blobs, log, cfg.MaxUploadBytes),
		WS: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWs(hub, w, r)
		}),
		Verifier: issuer,
		AdminKey: cfg.AdminKey,
		Origins:  middleware.ParseOrigins(cfg.CORSOrigins),
		Log:      log,
	}
	if cfg.AdminKey == "" {
		log.Warn("ADMIN_KEY is empty, catalog mutations are not protected")
	}

	server := &http.Server{Addr: cfg.Addr(), Handler: router.Handler()}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", "addr", cfg.Addr(), "storage", cfg.StorageType)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return exitRuntime, fmt.Errorf("server failed to start: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return exitRuntime, fmt.Errorf("shutdown: %w", err)
	}
	return exitOK, nil
}

// initStorage は設定に基づいてストレージを初期化する
func initStorage(cfg config.Config, log *slog.Logger) (storage.Storage, func(), error) {
	switch cfg.StorageType {
	case config.StoragePostgres:
		dsn, err := cfg.DatabaseDSN()
		if err != nil {
			return nil, nil, err
		}
		store, err := storage.NewPostgresStorage(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		log.Info("Using PostgreSQL storage")
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error("Error closing database connection", "error", err)
			}
		}, nil

	default:
		log.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), func() {}, nil
	}
}

// initCache はREDIS_ADDRがあればRedis、無ければプロセス内のキャッシュを使う
func initCache(ctx context.Context, cfg config.Config, log *slog.Logger) (cache.Cache, func(), error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(), func() {}, nil
	}
	rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   "ifocus:",
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info("Using Redis cache", "addr", cfg.RedisAddr)
	return rc, func() {
		if err := rc.Close(); err != nil {
			log.Error("Error closing redis connection", "error", err)
		}
	}, nil
}
