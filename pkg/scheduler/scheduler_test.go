package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dbtuneai/powa-agent/pkg/config"
	"github.com/dbtuneai/powa-agent/pkg/events"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeWaiter sleeps by advancing the fake clock. A set latch wakes it without
// advancing time. script, when set, decides the outcome of the n-th wait.
type fakeWaiter struct {
	clock  *fakeClock
	latch  bool
	waits  []time.Duration
	script func(call int, timeout time.Duration) (WakeReason, bool)
	calls  int
	mu     sync.Mutex
}

func (w *fakeWaiter) Set() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latch = true
}

func (w *fakeWaiter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latch = false
}

func (w *fakeWaiter) Wait(ctx context.Context, timeout time.Duration) WakeReason {
	if ctx.Err() != nil {
		return WakeShutdown
	}

	w.mu.Lock()
	call := w.calls
	w.calls++
	script := w.script
	w.mu.Unlock()

	if script != nil {
		if reason, ok := script(call, timeout); ok {
			return reason
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latch {
		w.latch = false
		return WakeLatch
	}
	w.waits = append(w.waits, timeout)
	w.clock.Advance(timeout)
	return WakeTimeout
}

type fakeConn struct {
	clock     *fakeClock
	durations []time.Duration
	afterTick func(n int)
	failOn    int
	failErr   error

	appName  string
	starts   []time.Time
	settings []config.RuntimeConfig
	closed   bool
}

func (c *fakeConn) SetApplicationName(_ context.Context, name string) error {
	c.appName = name
	return nil
}

func (c *fakeConn) TakeSnapshot(_ context.Context, cfg *config.RuntimeConfig) error {
	n := len(c.starts) + 1
	c.starts = append(c.starts, c.clock.Now())
	c.settings = append(c.settings, *cfg)

	d := c.durations[len(c.durations)-1]
	if n <= len(c.durations) {
		d = c.durations[n-1]
	}
	c.clock.Advance(d)

	if c.afterTick != nil {
		c.afterTick(n)
	}
	if c.failErr != nil && n == c.failOn {
		return c.failErr
	}
	return nil
}

func (c *fakeConn) Close(_ context.Context) error {
	c.closed = true
	return nil
}

type harness struct {
	v         *viper.Viper
	manager   *config.Manager
	clock     *fakeClock
	waiter    *fakeWaiter
	conn      *fakeConn
	events    chan events.Event
	scheduler *Scheduler
	connects  int
}

func newHarness(t *testing.T, frequency int, durations ...time.Duration) *harness {
	t.Helper()

	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	v := viper.New()
	v.Set("powa.frequency", frequency)
	manager, err := config.NewManager(v, logger)
	require.NoError(t, err)

	clock := &fakeClock{now: epoch}
	h := &harness{
		v:       v,
		manager: manager,
		clock:   clock,
		waiter:  &fakeWaiter{clock: clock},
		conn:    &fakeConn{clock: clock, durations: durations},
		events:  make(chan events.Event, 256),
	}
	h.scheduler = New(Options{
		Config: manager,
		Connect: func(_ context.Context, database string) (Conn, error) {
			h.connects++
			return h.conn, nil
		},
		Waiter: h.waiter,
		Clock:  clock,
		Events: h.events,
		Logger: logger,
	})
	return h
}

// reconfigure changes the frequency the way a SIGHUP would.
func (h *harness) reconfigure(frequency int) {
	h.v.Set("powa.frequency", frequency)
	h.manager.RequestReload()
}

func (h *harness) tickEvents() []events.TickEvent {
	var out []events.TickEvent
	for {
		select {
		case e := <-h.events:
			if tick, ok := e.(events.TickEvent); ok {
				out = append(out, tick)
			}
		default:
			return out
		}
	}
}

func TestComputeWait(t *testing.T) {
	tests := []struct {
		interval time.Duration
		elapsed  time.Duration
		expected time.Duration
	}{
		{interval: 5 * time.Second, elapsed: 1200 * time.Millisecond, expected: 3800 * time.Millisecond},
		{interval: 5 * time.Second, elapsed: 6 * time.Second, expected: -time.Second},
		{interval: 5 * time.Second, elapsed: 5 * time.Second, expected: 0},
		{interval: 0, elapsed: time.Millisecond, expected: -time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ComputeWait(tt.interval, tt.elapsed))
	}
}

func TestRun_DriftCompensation(t *testing.T) {
	h := newHarness(t, 5000, 1200*time.Millisecond)
	h.conn.afterTick = func(n int) {
		if n == 3 {
			h.reconfigure(-1)
		}
	}

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, ErrDisabled)

	require.Len(t, h.conn.starts, 3)
	for i := 1; i < len(h.conn.starts); i++ {
		assert.Equal(t, 5*time.Second, h.conn.starts[i].Sub(h.conn.starts[i-1]), "start-to-start spacing of tick %d", i)
	}
	assert.Equal(t, []time.Duration{3800 * time.Millisecond, 3800 * time.Millisecond}, h.waiter.waits)
	assert.Equal(t, ApplicationName, h.conn.appName)
	assert.True(t, h.conn.closed)

	ticks := h.tickEvents()
	require.Len(t, ticks, 3)
	assert.Equal(t, 1200*time.Millisecond, ticks[0].Elapsed)
	assert.Equal(t, 3800*time.Millisecond, ticks[0].Wait)
}

func TestRun_OverrunStartsImmediately(t *testing.T) {
	h := newHarness(t, 5000, 6*time.Second)
	h.conn.afterTick = func(n int) {
		if n == 3 {
			h.reconfigure(-1)
		}
	}

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, ErrDisabled)

	require.Len(t, h.conn.starts, 3)
	assert.Empty(t, h.waiter.waits, "no sleep when the snapshot overran the interval")
	assert.Equal(t, 6*time.Second, h.conn.starts[1].Sub(h.conn.starts[0]))
	assert.Equal(t, 6*time.Second, h.conn.starts[2].Sub(h.conn.starts[1]))

	ticks := h.tickEvents()
	require.Len(t, ticks, 3)
	assert.Equal(t, -time.Second, ticks[0].Wait)
}

func TestRun_ZeroFrequencyNeverWaits(t *testing.T) {
	h := newHarness(t, 0, 10*time.Millisecond)
	h.conn.afterTick = func(n int) {
		if n == 5 {
			h.reconfigure(-1)
		}
	}

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, ErrDisabled)
	assert.Len(t, h.conn.starts, 5)
	assert.Empty(t, h.waiter.waits)
}

func TestRun_StartBelowFloor(t *testing.T) {
	h := newHarness(t, 1000, time.Second)

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, config.ErrFrequencyTooSmall)
	assert.Equal(t, 0, h.connects)
	assert.Equal(t, StateTerminating, h.scheduler.Status().State)
}

func TestRun_Deactivated(t *testing.T) {
	h := newHarness(t, -1, time.Second)

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, ErrDeactivated)
	assert.Equal(t, 0, h.connects)
}

func TestRun_ConnectError(t *testing.T) {
	h := newHarness(t, 5000, time.Second)
	connErr := errors.New("database \"powa\" does not exist")
	h.scheduler.connect = func(context.Context, string) (Conn, error) {
		return nil, connErr
	}

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, connErr)
}

func TestRun_ReloadBelowFloorWhileSleeping(t *testing.T) {
	h := newHarness(t, 5000, time.Second)
	h.conn.afterTick = func(n int) {
		if n == 1 {
			h.reconfigure(1000)
		}
	}

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, config.ErrFrequencyTooSmall)
	assert.Len(t, h.conn.starts, 1, "no tick may run after an invalid reload")
}

func TestRun_ReloadBelowFloorBeforeTick(t *testing.T) {
	h := newHarness(t, 5000, 6*time.Second)
	h.conn.afterTick = func(n int) {
		if n == 2 {
			h.reconfigure(10)
		}
	}

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, config.ErrFrequencyTooSmall)
	assert.Len(t, h.conn.starts, 2)
}

func TestRun_ReloadKeepsStartToStartSpacing(t *testing.T) {
	h := newHarness(t, 5000, time.Second)
	h.waiter.script = func(call int, timeout time.Duration) (WakeReason, bool) {
		if call != 0 {
			return 0, false
		}
		// Two seconds into the first sleep the frequency is raised to 10s.
		h.clock.Advance(2 * time.Second)
		h.v.Set("powa.frequency", 10000)
		h.manager.RequestReload()
		h.waiter.Reset()
		return WakeLatch, true
	}
	h.conn.afterTick = func(n int) {
		if n == 2 {
			h.reconfigure(-1)
		}
	}

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, ErrDisabled)

	require.Len(t, h.conn.starts, 2)
	assert.Equal(t, 10*time.Second, h.conn.starts[1].Sub(h.conn.starts[0]))
	assert.Equal(t, []time.Duration{7 * time.Second}, h.waiter.waits)
}

func TestRun_ReloadedSettingsReachSnapshot(t *testing.T) {
	h := newHarness(t, 5000, time.Second)
	h.conn.afterTick = func(n int) {
		switch n {
		case 1:
			h.v.Set("powa.coalesce", 7)
			h.v.Set("powa.retention", 60)
			h.v.Set("powa.ignored_users", "bob")
			h.manager.RequestReload()
		case 2:
			h.reconfigure(-1)
		}
	}

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, ErrDisabled)

	require.Len(t, h.conn.settings, 2)
	assert.Equal(t, config.DefaultCoalesce, h.conn.settings[0].Coalesce)
	assert.Equal(t, config.DefaultRetentionMin, h.conn.settings[0].Retention)
	assert.Equal(t, 7, h.conn.settings[1].Coalesce)
	assert.Equal(t, 60, h.conn.settings[1].Retention)
	assert.Equal(t, "bob", h.conn.settings[1].IgnoredUsers)
}

func TestRun_TickFailureIsFatal(t *testing.T) {
	h := newHarness(t, 5000, time.Second)
	h.conn.failOn = 2
	h.conn.failErr = errors.New("function powa_take_snapshot() does not exist")

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, ErrTickFailed)
	require.ErrorIs(t, err, h.conn.failErr)
	assert.Len(t, h.conn.starts, 2)
	assert.True(t, h.conn.closed)

	ticks := h.tickEvents()
	require.Len(t, ticks, 2)
	assert.False(t, ticks[0].Failed())
	assert.True(t, ticks[1].Failed())
}

func TestRun_ShutdownWhileSleeping(t *testing.T) {
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	manager, err := config.NewManager(viper.New(), logger)
	require.NoError(t, err)

	conn := &fakeConn{clock: &fakeClock{now: epoch}, durations: []time.Duration{0}}
	s := New(Options{
		Config: manager,
		Connect: func(context.Context, string) (Conn, error) {
			return conn, nil
		},
		Logger: logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	err = s.Run(ctx)
	require.ErrorIs(t, err, ErrShutdown)
	assert.Less(t, time.Since(started), 2*time.Second, "shutdown must not wait out the 5 minute interval")
	assert.Len(t, conn.starts, 1)
}

func TestRun_StatusWhileSleeping(t *testing.T) {
	h := newHarness(t, 5000, 1200*time.Millisecond)

	var seen Status
	h.waiter.script = func(call int, timeout time.Duration) (WakeReason, bool) {
		seen = h.scheduler.Status()
		return WakeShutdown, true
	}

	err := h.scheduler.Run(context.Background())
	require.ErrorIs(t, err, ErrShutdown)

	assert.Equal(t, StateSleeping, seen.State)
	assert.Equal(t, "-- sleeping for 3 seconds", seen.Activity)
	assert.Equal(t, int64(1), seen.Ticks)
	assert.Equal(t, epoch, seen.LastTick)
	assert.Equal(t, StateTerminating, h.scheduler.Status().State)
}
