package extract

import (
	"time"

	"github.com/dbtuneai/powa-agent/pkg/pgstat"
)

// ticksPerMillisecond converts the store's function timings to milliseconds.
const ticksPerMillisecond = 1000.0

// FunctionRowValues lays out a function's counters in result-column order.
func FunctionRowValues(f pgstat.FunctionCounters) []any {
	return []any{
		uint32(f.FunctionID),
		f.Calls,
		float64(f.TotalTime) / ticksPerMillisecond,
		float64(f.SelfTime) / ticksPerMillisecond,
	}
}

// RelationRowValues lays out a relation's counters in result-column order.
func RelationRowValues(r pgstat.RelationCounters) []any {
	return []any{
		uint32(r.RelationID),
		r.NumScans,
		r.TuplesReturned,
		r.TuplesFetched,
		r.TuplesInserted,
		r.TuplesUpdated,
		r.TuplesDeleted,
		r.TuplesHotUpdate,
		r.LiveTuples,
		r.DeadTuples,
		r.ChangesSinceAnalyze,
		r.BlocksFetched - r.BlocksHit,
		r.BlocksHit,
		nullableTime(r.LastVacuum),
		r.VacuumCount,
		nullableTime(r.LastAutoVacuum),
		r.AutoVacuumCount,
		nullableTime(r.LastAnalyze),
		r.AnalyzeCount,
		nullableTime(r.LastAutoAnalyze),
		r.AutoAnalyzeCount,
	}
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
