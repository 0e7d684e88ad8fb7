package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/appointment-engine/internal/api/router"
	"github.com/wolfman30/appointment-engine/internal/bookings"
	"github.com/wolfman30/appointment-engine/internal/clinic"
	appconfig "github.com/wolfman30/appointment-engine/internal/config"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || !cfg.UseRedis() {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool opens and pings the appointment database. It returns a
// nil pool and no error when DATABASE_URL is unset.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	if cfg == nil || !cfg.UsePostgres() {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(strings.TrimSpace(cfg.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("postgres connected", "max_conns", poolCfg.MaxConns)
	return pool, nil
}

// BuildClinicStore returns the Redis snapshot store, or an in-memory store
// when Redis is not configured.
func BuildClinicStore(redisClient *redis.Client) clinic.Writer {
	if redisClient == nil {
		return clinic.NewMemoryStore()
	}
	return clinic.NewStore(redisClient)
}

// BuildRepository picks the appointment store for the configured backend.
func BuildRepository(pool *pgxpool.Pool, cfg *appconfig.Config) bookings.Repository {
	if pool == nil {
		return bookings.NewMemoryRepository(cfg.BookingLockTimeout)
	}
	return bookings.NewPostgresRepository(pool, cfg.BookingLockTimeout)
}

// HealthChecks returns probes for the backends that are wired.
func HealthChecks(redisClient *redis.Client, pool *pgxpool.Pool) []router.HealthCheck {
	var checks []router.HealthCheck
	if redisClient != nil {
		checks = append(checks, router.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	if pool != nil {
		checks = append(checks, router.HealthCheck{Name: "postgres", Check: pool.Ping})
	}
	return checks
}
