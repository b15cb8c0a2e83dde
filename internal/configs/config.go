package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

var global *Config

type Config struct {
	HTTPPort int `env:"RECALL_PORT" envDefault:"8094"`

	// Database (required, no default)
	DBPostgresqlDSN string `env:"DB_POSTGRESQL_DSN,notEmpty"`

	// Embedding provider
	EmbeddingServiceURL string        `env:"EMBEDDING_SERVICE_URL" envDefault:"http://localhost:8091"`
	EmbeddingDimension  int           `env:"EMBEDDING_DIMENSION" envDefault:"1536"`
	EmbeddingBatchSize  int           `env:"EMBEDDING_BATCH_SIZE" envDefault:"32"`
	EmbeddingTimeout    time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"30s"`
	EmbeddingMaxRetries int           `env:"EMBEDDING_MAX_RETRIES" envDefault:"5"`

	EmbeddingCacheType      string        `env:"EMBEDDING_CACHE_TYPE" envDefault:"memory"`
	EmbeddingCacheTTL       time.Duration `env:"EMBEDDING_CACHE_TTL" envDefault:"1h"`
	EmbeddingCacheMaxSize   int           `env:"EMBEDDING_CACHE_MAX_SIZE" envDefault:"10000"`
	EmbeddingCacheKeyPrefix string        `env:"EMBEDDING_CACHE_KEY_PREFIX" envDefault:"emb:"`

	ValidateEmbedding        bool          `env:"VALIDATE_EMBEDDING_ON_START" envDefault:"true"`
	ValidateEmbeddingTimeout time.Duration `env:"VALIDATE_EMBEDDING_TIMEOUT" envDefault:"10s"`

	// Redis backs the embedding cache (when type=redis) and the
	// cross-instance sync locks. Optional: without it, sync exclusion
	// falls back to the database-level status guard alone.
	RedisURL    string        `env:"REDIS_URL"`
	SyncLockTTL time.Duration `env:"SYNC_LOCK_TTL" envDefault:"15m"`

	// Chunking
	ChunkMaxChars     int `env:"CHUNK_MAX_CHARS" envDefault:"1000"`
	ChunkOverlapChars int `env:"CHUNK_OVERLAP_CHARS" envDefault:"150"`

	// Search
	SearchDefaultLimit  int     `env:"SEARCH_DEFAULT_LIMIT" envDefault:"20"`
	SearchMinSimilarity float32 `env:"SEARCH_MIN_SIMILARITY" envDefault:"0.5"`

	SyncFetchTimeout time.Duration `env:"SYNC_FETCH_TIMEOUT" envDefault:"60s"`

	// Source connector serving raw message pages for ingestion.
	SourceConnectorURL string `env:"SOURCE_CONNECTOR_URL" envDefault:"http://localhost:8095"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`

	// AuthTokens maps static bearer tokens to owner IDs as
	// "token1:owner1,token2:owner2". When empty the bearer credential
	// itself is trusted as the owner ID (behind an authenticating
	// proxy).
	AuthTokens string `env:"RECALL_AUTH_TOKENS"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if cfg.ChunkOverlapChars < 0 || cfg.ChunkMaxChars <= cfg.ChunkOverlapChars {
		return nil, fmt.Errorf("invalid chunk parameters: max=%d overlap=%d", cfg.ChunkMaxChars, cfg.ChunkOverlapChars)
	}
	if cfg.EmbeddingDimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension: %d", cfg.EmbeddingDimension)
	}

	global = cfg
	return cfg, nil
}

func GetGlobal() *Config {
	return global
}
