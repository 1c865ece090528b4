package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"rotikita/backend/internal/archiver"
	"rotikita/backend/internal/cache"
	"rotikita/backend/internal/config"
	"rotikita/backend/internal/engine"
	"rotikita/backend/internal/httpapi"
	"rotikita/backend/internal/logger"
	"rotikita/backend/internal/service"
	"rotikita/backend/internal/shiftclock"
	"rotikita/backend/internal/store"
	"rotikita/backend/internal/store/memory"
	pgstore "rotikita/backend/internal/store/postgres"
)

func main() {
	log := logger.Must(logger.New())
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("invalid TIMEZONE", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}
	boundaries := shiftclock.Boundaries{MorningHour: cfg.MorningHour, NightHour: cfg.NightHour}
	if err := boundaries.Validate(); err != nil {
		log.Fatal("invalid shift boundary configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, logger.Named(log, "postgres"))
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	snapshots := cache.SnapshotCache(cache.NoopSnapshotCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSnapshotCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.Error(err))
		} else {
			snapshots = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}

	eng, err := engine.New(repo, engine.Options{
		Boundaries:   boundaries,
		Location:     loc,
		Debounce:     cfg.Debounce(),
		PollInterval: cfg.PollInterval(),
	}, logger.Named(log, "engine"))
	if err != nil {
		log.Fatal("engine init failed", zap.Error(err))
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	eng.Start(runCtx)

	rot := archiver.New(repo, boundaries, loc, time.Duration(cfg.RotationGraceMinutes)*time.Minute, logger.Named(log, "archiver"))
	if err := rot.Start(); err != nil {
		log.Fatal("archiver init failed", zap.Error(err))
	}

	svc := service.New(repo, eng, snapshots, cfg.SnapshotTTL(), logger.Named(log, "service"))
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger.Named(log, "http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Long enough for the SSE stream to stay open across heartbeats.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("dashboard backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	runCancel()
	rot.Stop()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
