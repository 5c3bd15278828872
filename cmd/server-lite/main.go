// Package main provides the lightweight entry point for the symptom-biomarker
// engine. This version requires no external databases: embedded SQLite storage
// and an in-memory analytics cache.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/symptom-biomarker-engine/internal/api"
	"github.com/symptom-biomarker-engine/internal/cache"
	"github.com/symptom-biomarker-engine/internal/config"
	"github.com/symptom-biomarker-engine/internal/domain"
	"github.com/symptom-biomarker-engine/internal/engine"
	"github.com/symptom-biomarker-engine/internal/store"
)

func main() {
	cfg := config.LoadLiteConfig()

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if err := cfg.EnsureDataDir(); err != nil {
		logger.Fatalf("Failed to create data directory: %v", err)
	}
	logger.WithField("data_dir", cfg.DataDir).Info("Starting symptom-biomarker engine (lite)")

	st, err := store.NewSQLiteStore(cfg.StoreDBPath())
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	taxonomy := domain.DefaultTaxonomy()
	if cfg.TaxonomyPath != "" {
		taxonomy, err = domain.LoadTaxonomyFile(cfg.TaxonomyPath)
		if err != nil {
			logger.Fatalf("Failed to load taxonomy: %v", err)
		}
	}

	service := engine.NewService(
		engine.NewLedger(st, taxonomy, logger),
		engine.NewFlagger(st, taxonomy, logger),
		engine.NewAnalytics(st, logger, cfg.AnalyticsTopN, cfg.TrendWindowDays),
		domain.NewNormalizer(taxonomy),
		logger,
	)

	summaryCache, err := cache.New(cache.Config{
		MaxEntries: cfg.CacheMaxEntries,
		TTL:        cfg.CacheTTL,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to create analytics cache: %v", err)
	}
	defer summaryCache.Close()
	service.WithCache(summaryCache)

	feed := api.NewFlagFeed(logger)
	service.WithNotifier(feed)

	server := api.NewServer(api.Config{
		Host:         "127.0.0.1",
		Port:         cfg.HTTPPort,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		Debug:        cfg.LogLevel == "debug",
	}, service, feed, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
	logger.Info("Engine (lite) stopped")
}
