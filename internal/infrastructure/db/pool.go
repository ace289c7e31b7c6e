package db

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolSettings bounds the connection budget shared by the ledger writers,
// the protection scanner and the HTTP read paths.
type PoolSettings struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// PoolSettingsFromEnv reads the DB_* tuning knobs, falling back to defaults
// sized for a single trading process.
func PoolSettingsFromEnv() PoolSettings {
	s := PoolSettings{
		MaxConns:          envInt32("DB_MAX_CONNS", 10),
		MinConns:          envInt32("DB_MIN_CONNS", 2),
		MaxConnLifetime:   envDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
		MaxConnIdleTime:   envDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
		HealthCheckPeriod: envDuration("DB_HEALTHCHECK_PERIOD", 30*time.Second),
	}
	if s.MaxConns < 1 {
		s.MaxConns = 1
	}
	if s.MinConns < 0 {
		s.MinConns = 0
	}
	if s.MinConns > s.MaxConns {
		s.MinConns = s.MaxConns
	}
	return s
}

func envInt32(key string, def int32) int32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return def
	}
	return int32(n)
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// requireSSL forces sslmode=require unless the URL already chose one.
// Managed Postgres rejects plaintext connections.
func requireSSL(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		// Unparseable URL goes through untouched; pgx reports the real error.
		return databaseURL
	}
	q := u.Query()
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "require")
		u.RawQuery = q.Encode()
	}
	return strings.TrimSpace(u.String())
}

// NewPool connects the process to its state store.
func NewPool(ctx context.Context, databaseURL string, s PoolSettings) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(requireSSL(databaseURL))
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = s.MaxConns
	cfg.MinConns = s.MinConns
	cfg.MaxConnLifetime = s.MaxConnLifetime
	cfg.MaxConnIdleTime = s.MaxConnIdleTime
	cfg.HealthCheckPeriod = s.HealthCheckPeriod
	return pgxpool.NewWithConfig(ctx, cfg)
}
