package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docutag/postscraper"
	"github.com/docutag/postscraper/api"
	"github.com/docutag/postscraper/categorize"
	"github.com/docutag/postscraper/config"
	"github.com/docutag/postscraper/db"
	"github.com/docutag/postscraper/llm"
	"github.com/docutag/postscraper/metrics"
	"github.com/docutag/postscraper/pipeline"
	"github.com/docutag/postscraper/registry"
	"github.com/docutag/postscraper/search"
	"github.com/docutag/postscraper/storage"
	"github.com/docutag/postscraper/tracing"
)

const (
	serviceName    = "postscraper"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging with JSON output
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("postscraper service initializing", "version", serviceVersion, "config", cfg.Redacted())

	ctx := context.Background()

	// Initialize tracing
	tp, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName: serviceName,
		Version:     serviceVersion,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
		logger.Info("tracing initialized", "exporter", cfg.OTLPEndpoint != "")
	}

	store, err := db.Open(ctx, cfg.DatabaseURL, cfg.MaxCategoriesPerPost)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	seed := cfg.Categories
	if len(seed) == 0 {
		seed = categorize.DefaultCategories()
	}
	reg, err := openRegistry(ctx, cfg, seed, logger)
	if err != nil {
		logger.Error("failed to open category registry", "error", err)
		os.Exit(1)
	}

	llmClient := llm.NewClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.HTTPTimeout,
	}, nil)
	if !llmClient.Enabled() {
		logger.Warn("LLM_API_KEY not set, using keyword categorization and feed/page extraction only")
	}

	extractor := postscraper.New(postscraper.Config{
		HTTPTimeout:   cfg.HTTPTimeout,
		ScraperAPIURL: cfg.Scraper.APIURL,
		ScraperAPIKey: cfg.Scraper.APIKey,
	}, llmClient, logger)
	keywords := categorize.DefaultKeywords().Merge(categorize.Keywords(cfg.Keywords))
	categorizer := categorize.New(llmClient, keywords, logger)

	archive, err := openArchive(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	index, err := search.NewMemory()
	if err != nil {
		logger.Error("failed to create search index", "error", err)
		os.Exit(1)
	}
	defer index.Close()

	m := metrics.New(serviceName)

	svc, err := pipeline.New(pipeline.Config{
		AutoCategorize: cfg.AutoCategorize,
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		ProbeImages:    cfg.ProbePostImages,
		MaxCategories:  cfg.MaxCategoriesPerPost,
	}, pipeline.Deps{
		Store:       store,
		Registry:    reg,
		Extractor:   extractor,
		Categorizer: categorizer,
		Archive:     archive,
		Index:       index,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create pipeline", "error", err)
		os.Exit(1)
	}

	if n, err := svc.RecoverInterrupted(ctx); err != nil {
		logger.Error("failed to recover interrupted posts", "error", err)
		os.Exit(1)
	} else if n > 0 {
		logger.Info("marked interrupted posts as failed", "count", n)
	}
	if err := svc.RebuildIndex(ctx); err != nil {
		logger.Warn("failed to build search index", "error", err)
	}
	svc.Start()

	// Database pool metrics only exist for SQL stores
	if sqlStore, ok := store.(*db.DB); ok {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				m.DB.UpdateDBStats(sqlStore.DB())
			}
		}()
		logger.Info("database metrics initialized")
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := svc.RefreshMetrics(context.Background()); err != nil {
				logger.Warn("failed to refresh post metrics", "error", err)
			}
		}
	}()

	server := api.NewServer(api.Config{
		Addr:        ":" + cfg.Port,
		CORSEnabled: cfg.CORSEnabled,
		APIToken:    cfg.APIToken,
	}, svc, m, logger)

	// Start server in a goroutine
	go func() {
		logger.Info("postscraper service starting",
			"port", cfg.Port,
			"auto_categorize", cfg.AutoCategorize,
			"workers", cfg.Workers,
			"llm_model", llmClient.Model(),
			"archive_enabled", archive != nil,
			"redis_registry", cfg.Redis.Addr != "",
		)

		if err := server.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Warn("workers did not finish, in-flight posts will be recovered on next start", "error", err)
	}

	logger.Info("server stopped")
}

func openRegistry(ctx context.Context, cfg *config.Config, seed []string, logger *slog.Logger) (registry.Registry, error) {
	if cfg.Redis.Addr == "" {
		return registry.NewMemory(seed), nil
	}
	opts := registry.DefaultConnectOptions(cfg.Redis.Addr)
	opts.Password = cfg.Redis.Password
	opts.DB = cfg.Redis.DB
	client, err := registry.Connect(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	return registry.NewRedis(ctx, client, registry.DefaultKeyPrefix, seed)
}

// openArchive returns nil when archiving is disabled
func openArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Archive, error) {
	s3cfg := cfg.Storage.S3
	if s3cfg.Bucket != "" {
		logger.Info("archiving raw payloads to S3", "bucket", s3cfg.Bucket, "region", s3cfg.Region)
		return storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:        s3cfg.Endpoint,
			Region:          s3cfg.Region,
			Bucket:          s3cfg.Bucket,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			UsePathStyle:    s3cfg.UsePathStyle,
		})
	}
	if cfg.Storage.BasePath == "" {
		logger.Info("raw payload archiving disabled")
		return nil, nil
	}
	logger.Info("archiving raw payloads to filesystem", "path", cfg.Storage.BasePath)
	return storage.New(storage.Config{BasePath: cfg.Storage.BasePath})
}
