package pg

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dbtuneai/powa-agent/pkg/config"
	"github.com/dbtuneai/powa-agent/pkg/scheduler"
	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

// sessionConn is the subset of *pgx.Conn the snapshot session uses.
type sessionConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

// SnapshotConn is the single session the scheduler runs every snapshot on.
type SnapshotConn struct {
	conn   sessionConn
	logger *log.Logger
}

// Connector returns a scheduler.Connector opening a dedicated connection to
// the requested database of the server behind cfg.ConnectionURL.
func Connector(cfg Config, logger *log.Logger) scheduler.Connector {
	return func(ctx context.Context, database string) (scheduler.Conn, error) {
		connConfig, err := pgx.ParseConfig(cfg.ConnectionURL)
		if err != nil {
			return nil, fmt.Errorf("invalid connection url: %w", err)
		}
		connConfig.Database = database

		conn, err := pgx.ConnectConfig(ctx, connConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		return &SnapshotConn{conn: conn, logger: logger}, nil
	}
}

// statement is one query of a transaction with its bind arguments.
type statement struct {
	sql  string
	args []any
}

// SetApplicationName implements scheduler.Conn.
func (c *SnapshotConn) SetApplicationName(ctx context.Context, name string) error {
	return c.inTransaction(ctx, statement{sql: SetApplicationNameQuery, args: []any{name}})
}

// TakeSnapshot implements scheduler.Conn. The powa.* settings of cfg are made
// visible to powa_take_snapshot() for the duration of the transaction.
func (c *SnapshotConn) TakeSnapshot(ctx context.Context, cfg *config.RuntimeConfig) error {
	return c.inTransaction(ctx,
		statement{sql: SetSnapshotSettingsQuery, args: SnapshotSettings(cfg)},
		statement{sql: TakeSnapshotQuery},
	)
}

// SnapshotSettings returns the bind arguments of SetSnapshotSettingsQuery.
// Retention carries its unit so it reads the same as a minute-based setting
// and as an interval.
func SnapshotSettings(cfg *config.RuntimeConfig) []any {
	return []any{
		strconv.Itoa(cfg.Coalesce),
		strconv.Itoa(cfg.Retention) + "min",
		cfg.IgnoredUsers,
	}
}

// Close implements scheduler.Conn.
func (c *SnapshotConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// inTransaction runs statements in their own transaction. The transaction is
// rolled back when one of them fails.
func (c *SnapshotConn) inTransaction(ctx context.Context, statements ...statement) error {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	for _, st := range statements {
		if _, err := tx.Exec(ctx, st.sql, st.args...); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				c.logger.Debugf("[pg] rollback failed: %v", rbErr)
			}
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}
