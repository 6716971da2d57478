package postgres

import (
	"context"
	"fmt"
	"time"

	"marketplace-escrow/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const applicationName = "marketplace-escrow"

// poolConfig turns the database section into a pgxpool config. Sessions
// run in UTC so ledger timestamps never depend on the server zone.
func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	return poolCfg, nil
}

// NewPool connects to PostgreSQL and checks that the escrow schema exists.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := NewHealthCheck(pool).Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("dbname", cfg.DBName).
		Int32("max_conns", cfg.MaxConns).
		Dur("lock_timeout", cfg.LockTimeout).
		Msg("PostgreSQL pool ready")

	return pool, nil
}

// schemaTables must all exist for the engine to serve requests.
var schemaTables = []string{"accounts", "ledger_entries", "deals", "products", "audit_logs"}

// HealthCheck implements ports.HealthChecker. Besides connectivity it
// reports a database that was never migrated.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	var missing []string
	err := h.pool.QueryRow(ctx,
		`SELECT coalesce(array_agg(t), '{}') FROM unnest($1::text[]) AS t WHERE to_regclass(t) IS NULL`,
		schemaTables,
	).Scan(&missing)
	if err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema not migrated, missing tables: %v", missing)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
