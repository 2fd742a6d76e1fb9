package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chronicle/proofread/internal/analysis"
	"chronicle/proofread/internal/app"
	"chronicle/proofread/internal/cache"
	"chronicle/proofread/internal/config"
	"chronicle/proofread/internal/languagetool"
	"chronicle/proofread/internal/logging"
	"chronicle/proofread/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, logging.ParseLevel("info"), logging.FormatJSON).Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel), logging.ParseFormat(cfg.LogFormat))
	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config", err)
	}
	ctx := context.Background()

	client, err := languagetool.New(languagetool.Options{APIURL: cfg.APIURL, Timeout: cfg.AnalyzerTimeout})
	if err != nil {
		fatal("analyzer client failed", err)
	}
	deps := app.Deps{Analyzer: client, Logger: logger}

	// Shared analysis cache across replicas.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			fatal("redis connection failed", err)
		}
		defer redisStore.Close()
		deps.Analyzer = cache.NewAnalyzer(analysis.Analyzer(client), redisStore, logger)
		deps.Cache = redisStore
		logger.Info("analysis cache enabled", "backend", "redis", "ttl", cfg.CacheTTL.String())
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			fatal("database connection failed", err)
		}
		defer db.Close()
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			fatal("migrations failed", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "versions", applied)
		}
		deps.Runs = store.NewPostgresStore(db)
		logger.Info("run history enabled")
	} else {
		logger.Warn("DATABASE_URL not set, run history disabled")
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("proofread api listening", "addr", cfg.Addr, "analyzer", cfg.APIURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server failed", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
