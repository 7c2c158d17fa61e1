package sink

import (
	"context"

	"github.com/dbtuneai/powa-agent/pkg/events"
	"github.com/dbtuneai/powa-agent/pkg/metrics"
)

// MetricsSink feeds tick outcomes into in-memory counters
type MetricsSink struct {
	stats *metrics.TickStats
}

func NewMetricsSink(stats *metrics.TickStats) *MetricsSink {
	return &MetricsSink{stats: stats}
}

// Name returns the sink name
func (s *MetricsSink) Name() string {
	return "metrics"
}

// Process records the event
func (s *MetricsSink) Process(ctx context.Context, event events.Event) error {
	s.stats.Observe(event)
	return nil
}
