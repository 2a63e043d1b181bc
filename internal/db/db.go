// Package db is the pgx-backed Store: Position/QueuedTrade/WatchedStock
// persistence for internal/coordinator, and the holiday-calendar table for
// internal/holiday. A deployment that never configures a database runs
// with a nil Store (internal/coordinator's Deps.Store, internal/holiday's
// Store) and keeps everything in memory; this package exists for the
// deployments that want state to survive a restart.
package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/yoonsoo-han/autotrader/internal/circuitbreaker"
	"github.com/yoonsoo-han/autotrader/internal/vault"
)

// PoolInterface is the subset of pgxpool.Pool the Store queries through.
// Tests substitute a pgxmock pool here instead of standing up Postgres.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	pool    *pgxpool.Pool
	breaker *circuitbreaker.Manager
}

// New creates a connection pool. dsn is used verbatim when non-empty;
// otherwise New tries Vault-managed credentials first, falling back to the
// DATABASE_URL environment variable.
func New(ctx context.Context, dsn string) (*DB, error) {
	databaseURL := dsn

	if databaseURL == "" {
		if vaultClient, err := vault.NewClientFromEnv(); err == nil {
			if dbConfig, err := vaultClient.GetDatabaseConfig(ctx); err == nil {
				databaseURL = dbConfig.ConnectionString()
				log.Info().Msg("database credentials loaded from Vault")
			} else {
				log.Debug().Err(err).Msg("could not load database config from Vault, falling back to env")
			}
		}
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	if databaseURL == "" {
		return nil, fmt.Errorf("db: no DSN given and DATABASE_URL not set")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: parse DSN: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("db: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	log.Info().Msg("database connection pool created")

	return &DB{
		pool:    pool,
		breaker: circuitbreaker.NewManager(nil, nil, nil),
	}, nil
}

// Close closes the connection pool.
func (d *DB) Close() {
	if d.pool != nil {
		d.pool.Close()
		log.Info().Msg("database connection pool closed")
	}
}

// Ping checks the database connection.
func (d *DB) Ping(ctx context.Context) error {
	if d.pool == nil {
		return fmt.Errorf("db: connection pool is nil")
	}
	return d.pool.Ping(ctx)
}

// Pool returns the underlying connection pool.
func (d *DB) Pool() *pgxpool.Pool { return d.pool }

// Health checks database connectivity.
func (d *DB) Health(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// SetPool overrides the connection pool; used by tests.
func (d *DB) SetPool(pool *pgxpool.Pool) { d.pool = pool }

// SetCircuitBreaker overrides the circuit breaker manager guarding every
// query this package runs, so the Store can share one Manager instance
// with the exchange client; New otherwise gives each DB its own Manager.
func (d *DB) SetCircuitBreaker(m *circuitbreaker.Manager) { d.breaker = m }

// withBreaker runs fn through the store breaker, translating an open
// breaker into the same transient-upstream error every other query-path
// collaborator surfaces.
func (d *DB) withBreaker(ctx context.Context, fn func(ctx context.Context) error) error {
	if d.breaker == nil {
		return fn(ctx)
	}
	return d.breaker.Execute(ctx, d.breaker.Store(), "store", fn)
}
