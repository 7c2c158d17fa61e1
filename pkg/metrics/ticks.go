package metrics

import (
	"sync"
	"time"

	"github.com/dbtuneai/powa-agent/pkg/events"
)

// TickStats accumulates the outcome of every snapshot.
type TickStats struct {
	mu          sync.Mutex
	total       int64
	failed      int64
	overrun     int64
	lastElapsed time.Duration
	maxElapsed  time.Duration
	lastWait    time.Duration
	lastError   string
	terminated  bool
}

func NewTickStats() *TickStats {
	return &TickStats{}
}

// Observe folds an event into the counters. Only tick and state events count.
func (s *TickStats) Observe(event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := event.(type) {
	case events.TickEvent:
		s.total++
		s.terminated = false
		if e.Failed() {
			s.failed++
			s.lastError = e.Error
		}
		if e.Wait <= 0 {
			s.overrun++
		}
		s.lastElapsed = e.Elapsed
		s.lastWait = e.Wait
		if e.Elapsed > s.maxElapsed {
			s.maxElapsed = e.Elapsed
		}
	case events.StateEvent:
		s.terminated = true
	}
}

// Snapshot returns the current values.
func (s *TickStats) Snapshot() []FlatValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := []FlatValue{
		mustFlat(TicksTotal, s.total),
		mustFlat(TicksFailed, s.failed),
		mustFlat(TicksOverrun, s.overrun),
		mustFlat(TickLastElapsed, millis(s.lastElapsed)),
		mustFlat(TickMaxElapsed, millis(s.maxElapsed)),
		mustFlat(TickLastWait, millis(s.lastWait)),
		mustFlat(WorkerRunning, !s.terminated),
	}
	if s.lastError != "" {
		values = append(values, mustFlat(TickLastError, s.lastError))
	}
	return values
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// mustFlat is only used with values whose type matches the definition.
func mustFlat(def MetricDef, value any) FlatValue {
	fv, err := def.AsFlatValue(value)
	if err != nil {
		panic(err)
	}
	return fv
}
