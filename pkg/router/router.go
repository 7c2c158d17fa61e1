package router

import (
	"context"
	"time"

	"github.com/dbtuneai/powa-agent/pkg/events"
	"github.com/dbtuneai/powa-agent/pkg/sink"
	log "github.com/sirupsen/logrus"
)

// Router fans the worker's events out to multiple sinks
type Router struct {
	sinks []sink.Sink

	eventChan chan events.Event

	flushInterval time.Duration
	logger        *log.Logger
}

// Config holds router configuration
type Config struct {
	BufferSize    int
	FlushInterval time.Duration
}

// New creates a new router
func New(sinks []sink.Sink, logger *log.Logger, config Config) *Router {
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Minute
	}
	return &Router{
		sinks:         sinks,
		eventChan:     make(chan events.Event, config.BufferSize),
		flushInterval: config.FlushInterval,
		logger:        logger,
	}
}

// Events is the channel producers publish to
func (r *Router) Events() chan<- events.Event {
	return r.eventChan
}

// Run dispatches events until ctx is done, then delivers what is still
// buffered and closes the sinks.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Infof("[router] starting with %d sinks", len(r.sinks))

	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("[router] shutting down")
			return r.shutdown()

		case event := <-r.eventChan:
			r.dispatch(ctx, event)

		case <-flushTicker.C:
			r.flush(ctx)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, event events.Event) {
	for _, snk := range r.sinks {
		if err := snk.Process(ctx, event); err != nil {
			r.logger.Warnf("[router] sink %s error processing %s event: %v", snk.Name(), event.Type(), err)
		}
	}
}

func (r *Router) flush(ctx context.Context) {
	for _, snk := range r.sinks {
		if flusher, ok := snk.(sink.Flusher); ok {
			if err := flusher.Flush(ctx); err != nil {
				r.logger.Warnf("[router] sink %s flush error: %v", snk.Name(), err)
			}
		}
	}
}

// shutdown drains the buffer and closes all sinks
func (r *Router) shutdown() error {
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

drain:
	for {
		select {
		case event := <-r.eventChan:
			r.dispatch(drainCtx, event)
		default:
			break drain
		}
	}

	var firstErr error
	for _, snk := range r.sinks {
		if closer, ok := snk.(sink.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
