package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dbtuneai/powa-agent/pkg/config"
	"github.com/dbtuneai/powa-agent/pkg/events"
	log "github.com/sirupsen/logrus"
)

const (
	// ApplicationName is reported by the worker's database session.
	ApplicationName = "POWA collector"

	snapshotActivity = "SELECT powa_take_snapshot()"
	appNameActivity  = "SELECT set_config('application_name', '" + ApplicationName + "', false)"
)

var (
	// ErrDeactivated is returned when the worker starts with a negative frequency.
	ErrDeactivated = errors.New("powa is deactivated")
	// ErrDisabled is returned when the frequency turns negative while running.
	ErrDisabled = errors.New("powa exits to disconnect from the database")
	// ErrShutdown is returned when the worker is asked to stop.
	ErrShutdown = errors.New("powa worker shutting down")
	// ErrTickFailed wraps the error of a failed snapshot.
	ErrTickFailed = errors.New("snapshot failed")
)

// Conn is the database session used for every tick.
type Conn interface {
	// SetApplicationName labels the session in the server's activity view.
	SetApplicationName(ctx context.Context, name string) error
	// TakeSnapshot runs the snapshot function in its own transaction, with
	// the powa.* settings of cfg in effect.
	TakeSnapshot(ctx context.Context, cfg *config.RuntimeConfig) error
	Close(ctx context.Context) error
}

// Connector opens the session to database.
type Connector func(ctx context.Context, database string) (Conn, error)

// Clock is the time source of the scheduler.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// State is the lifecycle stage of the worker.
type State string

const (
	StateStarting    State = "starting"
	StateConnecting  State = "connecting"
	StateRunning     State = "running"
	StateSleeping    State = "sleeping"
	StateTerminating State = "terminating"
)

// Status is a point-in-time view of the worker.
type Status struct {
	State    State     `json:"state"`
	Activity string    `json:"activity"`
	Ticks    int64     `json:"ticks"`
	LastTick time.Time `json:"last_tick,omitempty"`
}

// Options configures a Scheduler. Waiter, Clock and Events are optional.
type Options struct {
	Config  *config.Manager
	Connect Connector
	Waiter  Waiter
	Clock   Clock
	Events  chan<- events.Event
	Logger  *log.Logger
}

// Scheduler takes a snapshot every powa.frequency milliseconds, measured from
// the start of one snapshot to the start of the next.
type Scheduler struct {
	cfg     *config.Manager
	connect Connector
	waiter  Waiter
	clock   Clock
	events  chan<- events.Event
	logger  *log.Logger

	mu     sync.Mutex
	status Status
}

// New creates a Scheduler. Reload requests on opts.Config wake its wait.
func New(opts Options) *Scheduler {
	if opts.Waiter == nil {
		opts.Waiter = NewLatch()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}

	s := &Scheduler{
		cfg:     opts.Config,
		connect: opts.Connect,
		waiter:  opts.Waiter,
		clock:   opts.Clock,
		events:  opts.Events,
		logger:  opts.Logger,
		status:  Status{State: StateStarting},
	}
	opts.Config.OnReloadRequest(s.waiter.Set)
	return s
}

// Status returns the current state and activity of the worker.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) setState(state State, activity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	s.status.Activity = activity
}

func (s *Scheduler) recordTick(start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Ticks++
	s.status.LastTick = start
}

// ComputeWait returns how long to sleep after a tick that took elapsed so the
// next one starts interval after the previous start. A result <= 0 means the
// next tick is already due.
func ComputeWait(interval, elapsed time.Duration) time.Duration {
	return interval - elapsed
}

// Run executes the worker until it has to stop. It never returns nil: every
// way out, including shutdown, is an error the supervisor must see.
func (s *Scheduler) Run(ctx context.Context) (err error) {
	defer func() {
		s.setState(StateTerminating, "")
		s.emit(ctx, events.NewStateEvent(string(StateTerminating), err))
	}()

	s.setState(StateStarting, "")
	cfg := s.cfg.Load()
	if err := cfg.CheckFrequency(); err != nil {
		s.logger.Errorf("[scheduler] %v", err)
		return err
	}

	s.setState(StateConnecting, "")
	if cfg.Disabled() {
		s.logger.Infof("[scheduler] POWA is deactivated (powa.frequency = %d), exiting", cfg.Frequency)
		return ErrDeactivated
	}

	conn, err := s.connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("error connecting to database %q: %w", cfg.Database, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := conn.Close(closeCtx); cerr != nil {
			s.logger.Warnf("[scheduler] error closing connection: %v", cerr)
		}
	}()
	s.logger.Infof("[scheduler] POWA connected to database %q", cfg.Database)

	s.setState(StateRunning, appNameActivity)
	if err := conn.SetApplicationName(ctx, ApplicationName); err != nil {
		return fmt.Errorf("error setting application name: %w", err)
	}
	s.setState(StateRunning, "")

	for {
		if err := s.processReload(); err != nil {
			return err
		}

		// The frequency may have turned negative on a reload.
		cfg = s.cfg.Load()
		if cfg.Disabled() {
			s.logger.Info("[scheduler] POWA exits to disconnect from the database now")
			return ErrDisabled
		}
		if ctx.Err() != nil {
			return ErrShutdown
		}

		start := s.clock.Now()
		s.waiter.Reset()
		s.setState(StateRunning, snapshotActivity)

		tickErr := conn.TakeSnapshot(ctx, cfg)

		elapsed := s.clock.Now().Sub(start)
		s.recordTick(start)
		s.setState(StateRunning, "")
		wait := ComputeWait(cfg.Interval(), elapsed)
		s.emit(ctx, events.NewTickEvent(start, elapsed, wait, tickErr))

		if tickErr != nil {
			if ctx.Err() != nil {
				return ErrShutdown
			}
			s.logger.Errorf("[scheduler] snapshot failed after %v: %v", elapsed, tickErr)
			return fmt.Errorf("%w: %w", ErrTickFailed, tickErr)
		}

		if err := s.sleep(ctx, start); err != nil {
			return err
		}
	}
}

// sleep waits until the next tick is due, which is one interval after start.
// Reload requests wake it early: the reload is applied and the remaining wait
// recomputed against the new interval.
func (s *Scheduler) sleep(ctx context.Context, start time.Time) error {
	for {
		cfg := s.cfg.Load()
		if cfg.Disabled() {
			return nil
		}

		wait := ComputeWait(cfg.Interval(), s.clock.Now().Sub(start))
		s.logger.Debugf("[scheduler] Waiting for %d milliseconds", wait.Milliseconds())
		if wait <= 0 {
			return nil
		}

		s.setState(StateSleeping, fmt.Sprintf("-- sleeping for %d seconds", int64(wait/time.Second)))
		reason := s.waiter.Wait(ctx, wait)
		s.setState(StateRunning, "")

		switch reason {
		case WakeShutdown:
			return ErrShutdown
		case WakeTimeout:
			return nil
		case WakeLatch:
			if err := s.processReload(); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) processReload() error {
	if err := s.cfg.ProcessPendingReload(); err != nil {
		s.logger.Errorf("[scheduler] %v", err)
		return err
	}
	return nil
}

func (s *Scheduler) emit(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- event:
		return
	default:
	}
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}
