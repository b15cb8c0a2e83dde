package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/recallhq/recall-server/internal/configs"
	"github.com/recallhq/recall-server/internal/domain/chunker"
	"github.com/recallhq/recall-server/internal/domain/embedding"
	"github.com/recallhq/recall-server/internal/domain/identity"
	"github.com/recallhq/recall-server/internal/domain/recall"
	"github.com/recallhq/recall-server/internal/domain/search"
	"github.com/recallhq/recall-server/internal/infrastructure/cache"
	"github.com/recallhq/recall-server/internal/infrastructure/database/repository/recallrepo"
	"github.com/recallhq/recall-server/internal/infrastructure/sources"
	"github.com/recallhq/recall-server/internal/interfaces/httpserver/handlers"
	"github.com/recallhq/recall-server/internal/interfaces/httpserver/middleware"
	"github.com/recallhq/recall-server/internal/metrics"
)

type Application struct {
	server *http.Server
	db     *gorm.DB
	sqlDB  *sql.DB
	pool   *pgxpool.Pool
	locker *cache.RedisLocker
}

func newApplication(cfg *configs.Config) (*Application, error) {
	ctx := context.Background()

	db, err := gorm.Open(postgres.Open(cfg.DBPostgresqlDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}

	if err := db.WithContext(ctx).Raw("SELECT 1").Error; err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Msg("Database connection established")

	if err := runMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return nil, err
	}
	log.Info().Msg("Database migrations applied")

	pool, err := pgxpool.New(ctx, cfg.DBPostgresqlDSN)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	embeddingCache, err := embedding.NewCache(embedding.CacheConfig{
		Type:      cfg.EmbeddingCacheType,
		RedisURL:  cfg.RedisURL,
		KeyPrefix: cfg.EmbeddingCacheKeyPrefix,
		MaxSize:   cfg.EmbeddingCacheMaxSize,
		TTL:       cfg.EmbeddingCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	embeddingClient := embedding.NewHTTPClient(
		cfg.EmbeddingServiceURL,
		cfg.EmbeddingDimension,
		cfg.EmbeddingTimeout,
		embeddingCache,
		cfg.EmbeddingCacheTTL,
	)

	if cfg.ValidateEmbedding {
		validateCtx, cancel := context.WithTimeout(ctx, cfg.ValidateEmbeddingTimeout)
		defer cancel()

		if err := embeddingClient.Validate(validateCtx); err != nil {
			return nil, fmt.Errorf("validate embedding server: %w", err)
		}
		log.Info().Msg("Embedding server validated successfully")
	}

	gateway := embedding.NewGateway(
		embeddingClient,
		cfg.EmbeddingBatchSize,
		cfg.EmbeddingMaxRetries,
		cfg.EmbeddingTimeout,
	)

	chunks, err := chunker.New(cfg.ChunkMaxChars, cfg.ChunkOverlapChars)
	if err != nil {
		return nil, fmt.Errorf("create chunker: %w", err)
	}

	var locker recall.Locker
	var redisLocker *cache.RedisLocker
	if cfg.RedisURL != "" {
		redisLocker, err = cache.NewRedisLocker(cfg.RedisURL, cfg.SyncLockTTL)
		if err != nil {
			return nil, fmt.Errorf("create sync locker: %w", err)
		}
		locker = redisLocker
	}

	repo := recallrepo.NewRepository(db)
	vectorIndex := search.NewPgVectorIndex(pool, cfg.EmbeddingDimension)
	fetcher := sources.NewHTTPFetcher(cfg.SourceConnectorURL, cfg.SyncFetchTimeout)

	service := recall.NewService(repo, fetcher, chunks, gateway, vectorIndex, locker, recall.ServiceConfig{
		FetchTimeout:         cfg.SyncFetchTimeout,
		DefaultLimit:         cfg.SearchDefaultLimit,
		DefaultMinSimilarity: cfg.SearchMinSimilarity,
	})

	recallHandler := handlers.NewRecallHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", recallHandler.HandleHealth)
	mux.HandleFunc("/v1/search", recallHandler.HandleSearch)
	mux.HandleFunc("/v1/sync/run", recallHandler.HandleSyncRun)
	mux.HandleFunc("/v1/sync/status", recallHandler.HandleSyncStatus)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	var resolver identity.Resolver
	if cfg.AuthTokens != "" {
		resolver = identity.NewTokenResolver(cfg.AuthTokens)
	} else {
		resolver = identity.HeaderResolver{}
	}

	handler := middleware.TimeoutMiddleware(cfg.RequestTimeout)(mux)
	handler = middleware.AuthMiddleware(resolver)(handler)
	handler = middleware.MetricsMiddleware()(handler)
	handler = middleware.RequestIDMiddleware()(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Application{
		server: server,
		db:     db,
		sqlDB:  sqlDB,
		pool:   pool,
		locker: redisLocker,
	}, nil
}

func (a *Application) Start(ctx context.Context) error {
	log.Info().Msg("Starting Recall Service")

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.server.Addr).Msg("Recall Service listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	if a.pool != nil {
		a.pool.Close()
	}
	if a.locker != nil {
		_ = a.locker.Close()
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}

	log.Info().Msg("Server exited")
	return nil
}

func runMigrations(ctx context.Context, db *gorm.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		log.Info().Str("migration", entry.Name()).Msg("Applying migration")
		if err := db.WithContext(ctx).Exec(string(sqlBytes)).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}
