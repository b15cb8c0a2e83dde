package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/domain/recall"
)

// RedisLocker serializes sync runs across instances with redsync. The
// database status guard still backs it up; the lock just fails fast
// without burning a transaction.
type RedisLocker struct {
	client redis.UniversalClient
	rs     *redsync.Redsync
	ttl    time.Duration
}

var _ recall.Locker = (*RedisLocker)(nil)

func NewRedisLocker(redisURL string, ttl time.Duration) (*RedisLocker, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("Redis URL must be provided")
	}

	opts, err := buildUniversalOptions(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if len(opts.Addrs) > 1 && opts.DB != 0 {
		log.Warn().Msg("Ignoring non-zero DB when using Redis Cluster configuration")
		opts.DB = 0
	}

	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Msg("Successfully connected to Redis for sync locks")
	return &RedisLocker{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    ttl,
	}, nil
}

func buildUniversalOptions(raw string) (*redis.UniversalOptions, error) {
	parts := strings.Split(raw, ",")
	opts := &redis.UniversalOptions{}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "://") {
			parsed, err := redis.ParseURL(part)
			if err != nil {
				return nil, err
			}

			opts.Addrs = append(opts.Addrs, parsed.Addr)

			if opts.Username == "" {
				opts.Username = parsed.Username
			}

			if opts.Password == "" {
				opts.Password = parsed.Password
			}

			if opts.DB == 0 {
				opts.DB = parsed.DB
			}

			if opts.TLSConfig == nil {
				opts.TLSConfig = parsed.TLSConfig
			}
		} else {
			opts.Addrs = append(opts.Addrs, part)
		}
	}

	if len(opts.Addrs) == 0 {
		return nil, fmt.Errorf("no Redis addresses provided")
	}

	return opts, nil
}

// Acquire takes the named lock without blocking. A held lock maps to
// ErrSyncAlreadyRunning so callers treat it like the database guard.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(1),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) {
			return nil, recall.ErrSyncAlreadyRunning
		}
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}

	release := func() {
		if _, err := mutex.Unlock(); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to unlock sync mutex")
		}
	}
	return release, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
