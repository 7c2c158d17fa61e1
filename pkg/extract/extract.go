package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/dbtuneai/powa-agent/pkg/pgstat"
	"github.com/dbtuneai/powa-agent/pkg/tuplestore"
	log "github.com/sirupsen/logrus"
)

// Kind selects which nested collection of a database entry is extracted.
type Kind int

const (
	KindFunction Kind = iota
	KindRelation
)

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindRelation:
		return "relation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) width() int {
	if k == KindFunction {
		return tuplestore.FunctionStatsColumns
	}
	return tuplestore.RelationStatsColumns
}

var (
	// ErrSetNotSupported is returned when the caller cannot take a materialized set.
	ErrSetNotSupported = errors.New("set-valued function called in context that cannot accept a set")
	// ErrNotRowType is returned when the caller's row type does not fit the requested kind.
	ErrNotRowType = errors.New("return type must be a row type")
)

// Extractor copies per-object counters of any database out of the statistics
// store into materialized result sets.
type Extractor struct {
	logger *log.Logger
}

// New creates an Extractor.
func New(logger *log.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// FunctionStats returns one row per tracked function of dbid.
func (e *Extractor) FunctionStats(ctx context.Context, session *pgstat.Session, req *tuplestore.ResultRequest, dbid pgstat.Oid) (*tuplestore.Store, error) {
	return e.Extract(ctx, session, req, dbid, KindFunction)
}

// RelationStats returns one row per table or index of dbid.
func (e *Extractor) RelationStats(ctx context.Context, session *pgstat.Session, req *tuplestore.ResultRequest, dbid pgstat.Oid) (*tuplestore.Store, error) {
	return e.Extract(ctx, session, req, dbid, KindRelation)
}

func checkRequest(req *tuplestore.ResultRequest, kind Kind) error {
	if req == nil || req.AllowedModes&tuplestore.ModeMaterialize == 0 {
		return ErrSetNotSupported
	}
	if req.Desc == nil || !req.Desc.Composite {
		return ErrNotRowType
	}
	if req.Desc.Width() != kind.width() {
		return fmt.Errorf("%w: %s statistics have %d columns, got %d",
			ErrNotRowType, kind, kind.width(), req.Desc.Width())
	}
	return nil
}

// Extract reads the kind collection of dbid through session and returns it as
// a finished result set.
//
// The session only reads nested collections for the database it is attached
// to, so the scope is overridden to dbid for the fetch. The session snapshot is
// cleared before the fetch, so an entry cached for another database cannot be
// returned, and again on every exit path, so later statistics reads in the
// session never see dbid's data.
func (e *Extractor) Extract(ctx context.Context, session *pgstat.Session, req *tuplestore.ResultRequest, dbid pgstat.Oid, kind Kind) (*tuplestore.Store, error) {
	if err := checkRequest(req, kind); err != nil {
		return nil, err
	}

	store := tuplestore.New(req.Desc)

	session.ClearSnapshot()
	defer session.ClearSnapshot()

	entry, err := fetchAs(ctx, session, dbid)
	if err != nil {
		return nil, err
	}

	if entry != nil {
		switch kind {
		case KindFunction:
			for _, f := range entry.Functions {
				store.PutValues(FunctionRowValues(f)...)
			}
		case KindRelation:
			for _, r := range entry.Relations {
				store.PutValues(RelationRowValues(r)...)
			}
		}
	} else {
		e.logger.Debugf("[extract] no statistics recorded for database %d", dbid)
	}

	store.Done()
	e.logger.Debugf("[extract] %d %s rows for database %d", store.Len(), kind, dbid)

	return store, nil
}

// fetchAs loads dbid's entry with the session scoped to dbid. The previous scope
// is back in place when it returns, panics included.
func fetchAs(ctx context.Context, session *pgstat.Session, dbid pgstat.Oid) (*pgstat.DatabaseEntry, error) {
	restore := session.OverrideScope(dbid)
	defer restore()

	return session.FetchDatabase(ctx, dbid)
}
