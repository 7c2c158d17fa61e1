package pgstat

import (
	"context"
	"sync"
)

// MemorySource is an in-process statistics store. Writers record counters
// while any number of sessions read copies of them.
type MemorySource struct {
	mu        sync.RWMutex
	databases map[Oid]*DatabaseEntry
}

// NewMemorySource creates an empty store.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		databases: make(map[Oid]*DatabaseEntry),
	}
}

func (m *MemorySource) entry(dbid Oid) *DatabaseEntry {
	e, ok := m.databases[dbid]
	if !ok {
		e = &DatabaseEntry{
			DatabaseID: dbid,
			Relations:  make(map[Oid]RelationCounters),
			Functions:  make(map[Oid]FunctionCounters),
		}
		m.databases[dbid] = e
	}
	return e
}

// RecordRelation stores the counters of a relation, replacing previous ones.
func (m *MemorySource) RecordRelation(dbid Oid, counters RelationCounters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(dbid).Relations[counters.RelationID] = counters
}

// RecordFunction stores the counters of a function, replacing previous ones.
func (m *MemorySource) RecordFunction(dbid Oid, counters FunctionCounters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(dbid).Functions[counters.FunctionID] = counters
}

// RecordDatabase registers dbid without any object activity.
func (m *MemorySource) RecordDatabase(dbid Oid) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(dbid)
}

// DropDatabase forgets everything recorded for dbid.
func (m *MemorySource) DropDatabase(dbid Oid) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.databases, dbid)
}

// LoadDatabase implements Source.
func (m *MemorySource) LoadDatabase(_ context.Context, dbid Oid, deep bool) (*DatabaseEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.databases[dbid]
	if !ok {
		return nil, nil
	}
	if !deep {
		return e.shallow(), nil
	}
	return e.Clone(), nil
}
