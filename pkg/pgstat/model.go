package pgstat

import "time"

// Oid identifies a database, relation or function in the statistics store.
type Oid uint32

// InvalidOid is never assigned to a real object.
const InvalidOid Oid = 0

// RelationCounters holds the cumulative activity counters of a table or index.
// A zero timestamp means the corresponding maintenance never happened.
type RelationCounters struct {
	RelationID Oid

	NumScans int64

	TuplesReturned  int64
	TuplesFetched   int64
	TuplesInserted  int64
	TuplesUpdated   int64
	TuplesDeleted   int64
	TuplesHotUpdate int64

	LiveTuples          int64
	DeadTuples          int64
	ChangesSinceAnalyze int64

	BlocksFetched int64
	BlocksHit     int64

	LastVacuum       time.Time
	VacuumCount      int64
	LastAutoVacuum   time.Time
	AutoVacuumCount  int64
	LastAnalyze      time.Time
	AnalyzeCount     int64
	LastAutoAnalyze  time.Time
	AutoAnalyzeCount int64
}

// FunctionCounters holds the call statistics of a tracked function.
// TotalTime and SelfTime are expressed in microsecond ticks.
type FunctionCounters struct {
	FunctionID Oid
	Calls      int64
	TotalTime  int64
	SelfTime   int64
}

// DatabaseEntry is the per-database aggregate of the statistics store.
//
// Relations and Functions are only populated for a deep fetch, i.e. when the
// entry was loaded for the database the session is scoped to.
type DatabaseEntry struct {
	DatabaseID Oid
	Relations  map[Oid]RelationCounters
	Functions  map[Oid]FunctionCounters
}

// Clone returns a deep copy of the entry.
func (e *DatabaseEntry) Clone() *DatabaseEntry {
	if e == nil {
		return nil
	}
	out := &DatabaseEntry{DatabaseID: e.DatabaseID}
	if e.Relations != nil {
		out.Relations = make(map[Oid]RelationCounters, len(e.Relations))
		for k, v := range e.Relations {
			out.Relations[k] = v
		}
	}
	if e.Functions != nil {
		out.Functions = make(map[Oid]FunctionCounters, len(e.Functions))
		for k, v := range e.Functions {
			out.Functions[k] = v
		}
	}
	return out
}

// shallow drops the nested collections.
func (e *DatabaseEntry) shallow() *DatabaseEntry {
	if e == nil {
		return nil
	}
	return &DatabaseEntry{DatabaseID: e.DatabaseID}
}
