package pg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dbtuneai/powa-agent/pkg/pgstat"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Querier is the part of a pgx pool used to read statistics.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StatSource implements pgstat.Source on top of a running server. The server
// only exposes object counters of the database a backend is connected to, so
// a pool is opened lazily for every database read in depth.
type StatSource struct {
	home    Querier
	connect func(ctx context.Context, database string) (Querier, func(), error)
	logger  *log.Logger

	mu         sync.Mutex
	pools      map[string]Querier
	closers    []func()
	versionNum int
}

// NewStatSource creates a StatSource resolving database OIDs through home and
// opening per-database pools from cfg.
func NewStatSource(home *pgxpool.Pool, cfg Config, logger *log.Logger) *StatSource {
	return newStatSource(home, poolConnector(cfg), logger)
}

func newStatSource(home Querier, connect func(ctx context.Context, database string) (Querier, func(), error), logger *log.Logger) *StatSource {
	return &StatSource{
		home:    home,
		connect: connect,
		logger:  logger,
		pools:   make(map[string]Querier),
	}
}

func poolConnector(cfg Config) func(ctx context.Context, database string) (Querier, func(), error) {
	return func(ctx context.Context, database string) (Querier, func(), error) {
		poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid connection url: %w", err)
		}
		poolConfig.ConnConfig.Database = database
		poolConfig.MaxConns = cfg.MaxConnsPerDatabase

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pool for database %q: %w", database, err)
		}
		return pool, pool.Close, nil
	}
}

// CurrentDatabaseID returns the OID of the database home is connected to.
func (s *StatSource) CurrentDatabaseID(ctx context.Context) (pgstat.Oid, error) {
	var oid uint32
	if err := s.home.QueryRow(ctx, CurrentDatabaseOidQuery).Scan(&oid); err != nil {
		return pgstat.InvalidOid, fmt.Errorf("error getting current database oid: %w", err)
	}
	return pgstat.Oid(oid), nil
}

func (s *StatSource) forDatabase(ctx context.Context, database string) (Querier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.pools[database]; ok {
		return q, nil
	}
	q, closer, err := s.connect(ctx, database)
	if err != nil {
		return nil, err
	}
	s.logger.Debugf("[pg] opened statistics pool for database %q", database)
	s.pools[database] = q
	s.closers = append(s.closers, closer)
	return q, nil
}

// LoadDatabase implements pgstat.Source.
func (s *StatSource) LoadDatabase(ctx context.Context, dbid pgstat.Oid, deep bool) (*pgstat.DatabaseEntry, error) {
	var name string
	var allowConn bool
	err := s.home.QueryRow(ctx, DatabaseNameQuery, uint32(dbid)).Scan(&name, &allowConn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error resolving database %d: %w", dbid, err)
	}
	// Nobody can connect, so nothing can have been recorded.
	if !allowConn {
		s.logger.Debugf("[pg] database %q does not allow connections, no statistics", name)
		return nil, nil
	}

	entry := &pgstat.DatabaseEntry{DatabaseID: dbid}
	if !deep {
		return entry, nil
	}

	q, err := s.forDatabase(ctx, name)
	if err != nil {
		return nil, err
	}

	relationQuery, err := s.relationQuery(ctx)
	if err != nil {
		return nil, err
	}
	entry.Relations, err = relationCounters(ctx, q, relationQuery)
	if err != nil {
		return nil, err
	}
	entry.Functions, err = functionCounters(ctx, q)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Close closes every per-database pool.
func (s *StatSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, closer := range s.closers {
		closer()
	}
	s.closers = nil
	s.pools = make(map[string]Querier)
}

// relationQuery picks the relation statistics query for the server version,
// which is read once.
func (s *StatSource) relationQuery(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versionNum == 0 {
		if err := s.home.QueryRow(ctx, ServerVersionNumQuery).Scan(&s.versionNum); err != nil {
			return "", fmt.Errorf("error reading server version: %w", err)
		}
	}
	if s.versionNum < MinHaveStatsVersionNum {
		return LegacyRelationStatsQuery, nil
	}
	return RelationStatsQuery, nil
}

func relationCounters(ctx context.Context, q Querier, query string) (map[pgstat.Oid]pgstat.RelationCounters, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error reading relation statistics: %w", err)
	}
	defer rows.Close()

	out := make(map[pgstat.Oid]pgstat.RelationCounters)
	for rows.Next() {
		var (
			relid                                                    uint32
			r                                                        pgstat.RelationCounters
			lastVacuum, lastAutoVacuum, lastAnalyze, lastAutoAnalyze *time.Time
		)
		err := rows.Scan(
			&relid,
			&r.NumScans,
			&r.TuplesReturned,
			&r.TuplesFetched,
			&r.TuplesInserted,
			&r.TuplesUpdated,
			&r.TuplesDeleted,
			&r.TuplesHotUpdate,
			&r.LiveTuples,
			&r.DeadTuples,
			&r.ChangesSinceAnalyze,
			&r.BlocksFetched,
			&r.BlocksHit,
			&lastVacuum,
			&r.VacuumCount,
			&lastAutoVacuum,
			&r.AutoVacuumCount,
			&lastAnalyze,
			&r.AnalyzeCount,
			&lastAutoAnalyze,
			&r.AutoAnalyzeCount,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning relation statistics: %w", err)
		}
		r.RelationID = pgstat.Oid(relid)
		r.LastVacuum = derefTime(lastVacuum)
		r.LastAutoVacuum = derefTime(lastAutoVacuum)
		r.LastAnalyze = derefTime(lastAnalyze)
		r.LastAutoAnalyze = derefTime(lastAutoAnalyze)
		out[r.RelationID] = r
	}
	return out, rows.Err()
}

func functionCounters(ctx context.Context, q Querier) (map[pgstat.Oid]pgstat.FunctionCounters, error) {
	rows, err := q.Query(ctx, FunctionStatsQuery)
	if err != nil {
		return nil, fmt.Errorf("error reading function statistics: %w", err)
	}
	defer rows.Close()

	out := make(map[pgstat.Oid]pgstat.FunctionCounters)
	for rows.Next() {
		var (
			funcid          uint32
			calls           int64
			totalMs, selfMs float64
		)
		if err := rows.Scan(&funcid, &calls, &totalMs, &selfMs); err != nil {
			return nil, fmt.Errorf("error scanning function statistics: %w", err)
		}
		out[pgstat.Oid(funcid)] = pgstat.FunctionCounters{
			FunctionID: pgstat.Oid(funcid),
			Calls:      calls,
			TotalTime:  millisToTicks(totalMs),
			SelfTime:   millisToTicks(selfMs),
		}
	}
	return out, rows.Err()
}

// millisToTicks converts server milliseconds to the store's microsecond ticks.
func millisToTicks(ms float64) int64 {
	return int64(math.Round(ms * 1000))
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
