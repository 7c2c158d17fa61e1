package pgstat

import (
	"context"
	"fmt"
)

// Source is the live statistics store backing a Session.
//
// LoadDatabase returns the aggregate entry of dbid, or nil if nothing has been
// recorded for it yet. The nested relation and function collections are only
// filled when deep is true. Implementations must be safe for concurrent use and
// must not return maps they keep mutating.
type Source interface {
	LoadDatabase(ctx context.Context, dbid Oid, deep bool) (*DatabaseEntry, error)
}

// snapshot is the session-local cache of fetched entries. It is built for a
// single scope and reused until cleared.
type snapshot struct {
	scope   Oid
	entries map[Oid]*DatabaseEntry
}

// Session reads the statistics store on behalf of one connected caller.
//
// Like the server's own statistics facility, a session only answers in depth
// for the database it is attached to: nested collections are loaded for the
// scope database and for no other. Entries are cached in a snapshot that lives
// until ClearSnapshot is called, so two fetches in the same unit of work see
// the same data.
//
// A Session is not safe for concurrent use.
type Session struct {
	source     Source
	databaseID Oid
	snap       *snapshot
}

// NewSession creates a session attached to databaseID.
func NewSession(source Source, databaseID Oid) *Session {
	return &Session{
		source:     source,
		databaseID: databaseID,
	}
}

// DatabaseID returns the database the session is currently scoped to.
func (s *Session) DatabaseID() Oid {
	return s.databaseID
}

// OverrideScope makes the session behave as if it were attached to dbid and
// returns the function restoring the previous scope. Calling the restore
// function more than once is a no-op.
func (s *Session) OverrideScope(dbid Oid) (restore func()) {
	previous := s.databaseID
	s.databaseID = dbid

	restored := false
	return func() {
		if restored {
			return
		}
		restored = true
		s.databaseID = previous
	}
}

// ClearSnapshot discards every cached entry.
func (s *Session) ClearSnapshot() {
	s.snap = nil
}

// HasSnapshot reports whether a snapshot is currently cached.
func (s *Session) HasSnapshot() bool {
	return s.snap != nil
}

// FetchDatabase returns the entry of dbid from the session snapshot, loading it
// from the source if needed. The snapshot is created lazily for the current
// scope; a nil entry without error means no activity was recorded for dbid.
func (s *Session) FetchDatabase(ctx context.Context, dbid Oid) (*DatabaseEntry, error) {
	if s.snap == nil {
		s.snap = &snapshot{
			scope:   s.databaseID,
			entries: make(map[Oid]*DatabaseEntry),
		}
	}

	if entry, ok := s.snap.entries[dbid]; ok {
		return entry, nil
	}

	entry, err := s.source.LoadDatabase(ctx, dbid, dbid == s.snap.scope)
	if err != nil {
		return nil, fmt.Errorf("error loading statistics of database %d: %w", dbid, err)
	}
	s.snap.entries[dbid] = entry

	return entry, nil
}
