package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"muse/api/internal/apitoken"
	"muse/api/internal/app"
	"muse/api/internal/attachments"
	"muse/api/internal/config"
	"muse/api/internal/docstore"
	"muse/api/internal/recents"
	"muse/api/internal/search"
	"muse/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var (
		adapter  store.Adapter
		fallback search.Searcher
		svc      *app.Service
	)

	// The backend is chosen once at startup; there is no runtime switching.
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		adapter = store.NewPostgresStore(db, cfg.IdeasDir)
		fallback = search.NewPgFTS(db)
	case "git":
		if err := os.MkdirAll(cfg.IdeasDir, 0o755); err != nil {
			logger.Fatal("failed to create ideas dir", zap.Error(err))
		}
		ds, err := docstore.New(cfg.IdeasDir, cfg.GitAuthor)
		if err != nil {
			logger.Fatal("idea repository open failed", zap.Error(err))
		}
		adapter = ds
		// The scan fallback reads the service snapshot, which exists only
		// after app.NewService below; the closure makes that safe.
		fallback = search.NewScan(func() []store.Thread { return svc.Threads("") })
	default:
		logger.Fatal("unknown store backend", zap.String("backend", cfg.StoreBackend))
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback, logger)

	var tracker recents.Tracker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisTracker, err := recents.NewRedisTracker(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisTracker.Close()
		tracker = redisTracker
		logger.Info("activity tracking in redis")
	} else {
		tracker = recents.NewMemoryTracker()
		logger.Info("activity tracking in memory")
	}

	var images app.ImageStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		imageStore, err := attachments.New(ctx, attachments.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			logger.Fatal("object storage connection failed", zap.Error(err))
		}
		images = imageStore
		logger.Info("image attachments enabled", zap.String("bucket", cfg.MinioBucket))
	}

	svc = app.NewService(adapter, searchService, tracker, images, logger)
	if err := svc.LoadThreads(ctx); err != nil {
		logger.Fatal("thread load failed", zap.Error(err))
	}
	svc.ReindexAll()

	tokens := apitoken.NewVerifier(cfg.APITokenHash)
	if !tokens.Enabled() {
		logger.Warn("api token not configured, write routes are open")
	}

	httpServer := app.NewHTTPServer(svc, tokens, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("muse api listening", zap.String("addr", cfg.Addr), zap.String("backend", adapter.Type()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
