package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/redis/go-redis/v9"
	"github.com/target/taskrelay/config"
	"github.com/target/taskrelay/internal/migrate"
)

const defaultConnectTimeout = 5 * time.Second

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB opens the Postgres task archive and verifies it answers a ping.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DBConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applyPoolSettings(db, cfg.DBConfig)

	ctx, cancel := context.WithTimeout(context.Background(), timeoutOrDefault(cfg.DBConfig.ConnectTimeout))
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("task archive connected",
			"host", cfg.DBConfig.Host,
			"port", cfg.DBConfig.Port,
			"database", cfg.DBConfig.Name,
			"max_open_conns", cfg.DBConfig.MaxOpenConns,
		)
	}
	return db, nil
}

func applyPoolSettings(db *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// ConnectRedis connects the result store client. Cluster, sentinel and direct
// deployments all yield a redis.UniversalClient.
//
//nolint:ireturn // the concrete client type depends on the deployment mode.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	opts, desc, err := universalOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	client := newUniversalClient(cfg.RedisConfig, opts)

	ctx, cancel := context.WithTimeout(context.Background(), timeoutOrDefault(cfg.RedisConfig.ConnectTimeout))
	defer cancel()

	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("result store connected", "addr", redactAddr(desc))
	}
	return client, nil
}

// redis.NewUniversalClient only picks cluster mode from the address count, so
// a single-seed cluster has to be built explicitly.
//
//nolint:ireturn // see ConnectRedis.
func newUniversalClient(cfg config.RedisConfig, opts *redis.UniversalOptions) redis.UniversalClient {
	if cfg.UseCluster {
		return redis.NewClusterClient(opts.Cluster())
	}
	return redis.NewUniversalClient(opts)
}

// universalOptions maps RedisConfig onto go-redis options and a log-safe description.
func universalOptions(cfg config.RedisConfig) (*redis.UniversalOptions, string, error) {
	switch {
	case cfg.UseCluster:
		return clusterOptions(cfg)
	case cfg.UseSentinel:
		nodes := normalizeAddrs(cfg.SentinelNodes)
		if len(nodes) == 0 {
			return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		return &redis.UniversalOptions{
			Addrs:            nodes,
			MasterName:       cfg.SentinelMasterName,
			Password:         cfg.Password,
			SentinelPassword: cfg.SentinelPassword,
			DB:               cfg.DB,
		}, "sentinel:" + cfg.SentinelMasterName, nil
	default:
		return directOptions(cfg)
	}
}

func clusterOptions(cfg config.RedisConfig) (*redis.UniversalOptions, string, error) {
	opts := &redis.UniversalOptions{
		Addrs:    normalizeAddrs(cfg.ClusterNodes),
		Password: cfg.Password,
	}
	if len(opts.Addrs) == 0 {
		seed, err := parseRedisTarget(cfg.URI)
		if err != nil {
			return nil, "", fmt.Errorf("parse redis cluster url: %w", err)
		}
		if seed != nil {
			opts.Addrs = []string{seed.Addr}
			opts.Username = seed.Username
			if seed.Password != "" {
				opts.Password = seed.Password
			}
			opts.TLSConfig = seed.TLSConfig
		}
	}
	if len(opts.Addrs) == 0 {
		return nil, "", errors.New("redis cluster configuration requires at least one address")
	}
	return opts, "cluster:" + strings.Join(opts.Addrs, ","), nil
}

func directOptions(cfg config.RedisConfig) (*redis.UniversalOptions, string, error) {
	target, err := parseRedisTarget(cfg.URI)
	if err != nil {
		return nil, "", fmt.Errorf("parse redis url: %w", err)
	}
	if target == nil {
		return nil, "", errors.New("redis direct configuration requires a URI")
	}

	opts := &redis.UniversalOptions{
		Addrs:     []string{target.Addr},
		Username:  target.Username,
		Password:  target.Password,
		DB:        target.DB,
		TLSConfig: target.TLSConfig,
	}
	if opts.Password == "" {
		opts.Password = cfg.Password
	}
	// A bare host:port carries no database index.
	if !isRedisURL(cfg.URI) {
		opts.DB = cfg.DB
	}
	return opts, strings.TrimSpace(cfg.URI), nil
}

// parseRedisTarget accepts either a redis:// or rediss:// URL or a bare host:port.
// An empty input yields nil.
func parseRedisTarget(raw string) (*redis.Options, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil //nolint:nilnil // absence is not an error here.
	}
	if !isRedisURL(trimmed) {
		return &redis.Options{Addr: trimmed}, nil
	}
	return redis.ParseURL(trimmed)
}

func normalizeAddrs(raw []string) []string {
	result := make([]string, 0, len(raw))
	for _, addr := range raw {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func isRedisURL(value string) bool {
	v := strings.TrimSpace(value)
	return strings.HasPrefix(v, "redis://") || strings.HasPrefix(v, "rediss://")
}

// redactAddr strips credentials from a Redis address before it is logged.
func redactAddr(addr string) string {
	if isRedisURL(addr) {
		if u, err := url.Parse(addr); err == nil {
			if u.User != nil {
				u.User = url.User("*")
			}
			return u.Redacted()
		}
	}
	if i := strings.LastIndex(addr, "@"); i > -1 {
		return addr[i+1:]
	}
	return addr
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultConnectTimeout
	}
	return d
}

// RunMigrations applies the embedded task archive schema.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.RunWithOptions(ctx, db, migrate.Options{Logger: logger}); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
