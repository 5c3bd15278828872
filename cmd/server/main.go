package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/symptom-biomarker-engine/internal/api"
	"github.com/symptom-biomarker-engine/internal/audit"
	"github.com/symptom-biomarker-engine/internal/cache"
	"github.com/symptom-biomarker-engine/internal/config"
	"github.com/symptom-biomarker-engine/internal/database"
	"github.com/symptom-biomarker-engine/internal/domain"
	"github.com/symptom-biomarker-engine/internal/engine"
	"github.com/symptom-biomarker-engine/internal/store"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting symptom-biomarker engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConfig := database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Database,
		Username:    cfg.Database.Username,
		Password:    cfg.Database.Password,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnLife: cfg.Database.MaxConnLifetime,
		MaxConnIdle: cfg.Database.MaxConnIdleTime,
	}

	db, err := database.NewConnection(ctx, dbConfig, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrationRunner, err := database.NewMigrationRunner(dbConfig.URL(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		logger.Fatalf("Failed to create migration runner: %v", err)
	}
	if err := migrationRunner.Up(ctx); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	migrationRunner.Close()

	taxonomy, err := loadTaxonomy(cfg.Engine.TaxonomyPath)
	if err != nil {
		logger.Fatalf("Failed to load taxonomy: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"version":  taxonomy.Version(),
		"symptoms": taxonomy.SymptomCount(),
	}).Info("Taxonomy loaded")

	st := store.NewPostgresStore(db, logger)

	service := engine.NewService(
		engine.NewLedger(st, taxonomy, logger),
		engine.NewFlagger(st, taxonomy, logger),
		engine.NewAnalytics(st, logger, cfg.Engine.AnalyticsTopN, cfg.Engine.TrendWindowDays),
		domain.NewNormalizer(taxonomy),
		logger,
	)

	summaryCache, err := cache.New(cache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		TTL:           cfg.Cache.TTL,
		RedisURL:      cfg.Cache.RedisURL,
		RedisPoolSize: cfg.Cache.RedisPoolSize,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to create analytics cache: %v", err)
	}
	defer summaryCache.Close()
	service.WithCache(summaryCache)

	auditLog, err := audit.NewPostgresLogFromURL(dbConfig.URL())
	if err != nil {
		logger.Fatalf("Failed to open audit log: %v", err)
	}
	defer auditLog.Close()
	service.WithAudit(auditLog)

	var feed *api.FlagFeed
	if cfg.Server.EnableFeed {
		feed = api.NewFlagFeed(logger)
		service.WithNotifier(feed)
	}

	server := api.NewServer(api.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
		RatePerSecond: cfg.Server.RatePerSecond,
		RateBurst:     cfg.Server.RateBurst,
		Debug:         cfg.Logging.Level == "debug",
	}, service, feed, logger)

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
	logger.Info("Server stopped")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func loadTaxonomy(path string) (*domain.Taxonomy, error) {
	if path == "" {
		return domain.DefaultTaxonomy(), nil
	}
	return domain.LoadTaxonomyFile(path)
}
