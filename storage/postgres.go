// Package storage implements the durable sink named in spec §6: a
// Postgres-backed store for enrichment_raw_data (job/task lifecycle plus
// raw/processed payloads) and the two persisted cache tables,
// api_request_cache and ai_cache, whose field lists are carried over
// verbatim from the BigQuery schema in
// _examples/original_source/workers/services/api_cache_service.py
// (substituting JSONB for BigQuery JSON and TIMESTAMPTZ for BigQuery
// TIMESTAMP, per the supplemented-feature note in SPEC_FULL.md). The pool
// wrapper and goose migration runner are adapted from
// _examples/Hola-to-network_logistics_problem/pkg/database.
package storage

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the connection parameters for the durable sink. Fields
// mirror the teacher's DatabaseConfig; values are read from the
// environment via FromEnv rather than a shared framework Config struct,
// since this worker is a single deployable and doesn't need the
// teacher's multi-agent config layering.
type Config struct {
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// FromEnv reads PG* environment variables, falling back to sane local
// defaults for anything unset.
func FromEnv() Config {
	return Config{
		Host:            getEnv("PGHOST", "localhost"),
		Port:            getEnvInt("PGPORT", 5432),
		Database:        getEnv("PGDATABASE", "enrichment"),
		Username:        getEnv("PGUSER", "enrichment"),
		Password:        os.Getenv("PGPASSWORD"),
		SSLMode:         getEnv("PGSSLMODE", "disable"),
		MaxOpenConns:    getEnvInt("PG_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvInt("PG_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func buildConnectionString(cfg Config) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)
}

// DB wraps a pgxpool.Pool, grounded on database.PostgresDB.
type DB struct {
	pool *pgxpool.Pool
	cfg  Config
}

// Open connects to Postgres and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{pool: pool, cfg: cfg}, nil
}

// Pool exposes the underlying pgxpool.Pool for callers that need raw
// Exec/Query access (migrations, the durable sink implementations).
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Close() {
	db.pool.Close()
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
