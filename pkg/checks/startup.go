package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dbtuneai/powa-agent/pkg/config"
	"github.com/dbtuneai/powa-agent/pkg/pg"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSnapshotFunctionMissing is returned when powa_take_snapshot() cannot be
// resolved in the target database.
var ErrSnapshotFunctionMissing = errors.New("powa_take_snapshot() not found")

type database interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CheckStartupRequirements verifies the configuration and that the worker's
// database is reachable and has the powa extension installed.
// Returns nil if all checks pass, or an error describing the first failure.
func CheckStartupRequirements(ctx context.Context, pgConfig pg.Config, cfg *config.RuntimeConfig) error {
	if err := cfg.CheckFrequency(); err != nil {
		return err
	}

	poolConfig, err := pgxpool.ParseConfig(pgConfig.ConnectionURL)
	if err != nil {
		return fmt.Errorf("PostgreSQL connection URL not set or invalid: %w", err)
	}
	poolConfig.ConnConfig.Database = cfg.Database
	poolConfig.MaxConns = 1

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}
	defer dbpool.Close()

	return checkDatabase(ctx, dbpool, cfg.Database)
}

func checkDatabase(ctx context.Context, db database, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("unable to ping PostgreSQL database %q: %w", name, err)
	}

	var exists bool
	if err := db.QueryRow(ctx, pg.SnapshotFunctionExistsQuery).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up powa_take_snapshot(): %w", err)
	}
	if !exists {
		return fmt.Errorf("%w in database %q, did you `CREATE EXTENSION powa;`", ErrSnapshotFunctionMissing, name)
	}
	return nil
}
