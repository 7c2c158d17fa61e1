package scheduler

import (
	"context"
	"time"
)

// WakeReason tells why a Wait returned.
type WakeReason int

const (
	WakeTimeout WakeReason = iota
	WakeLatch
	WakeShutdown
)

func (r WakeReason) String() string {
	switch r {
	case WakeTimeout:
		return "timeout"
	case WakeLatch:
		return "latch"
	case WakeShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Waiter blocks until its latch is set, the timeout expires or ctx is done.
type Waiter interface {
	Wait(ctx context.Context, timeout time.Duration) WakeReason
	Set()
	Reset()
}

// Latch is a level-triggered wakeup flag. Setting an already set latch is a
// no-op; the flag stays set until Reset.
type Latch struct {
	ch chan struct{}
}

// NewLatch creates an unset latch.
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{}, 1)}
}

// Set wakes a pending or future Wait. Safe from any goroutine.
func (l *Latch) Set() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Reset clears the latch.
func (l *Latch) Reset() {
	select {
	case <-l.ch:
	default:
	}
}

// Wait returns as soon as the latch is set, ctx is done or timeout elapses.
// A set latch is consumed by Wait. Context cancellation wins over a set latch.
func (l *Latch) Wait(ctx context.Context, timeout time.Duration) WakeReason {
	if ctx.Err() != nil {
		return WakeShutdown
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return WakeShutdown
	case <-l.ch:
		return WakeLatch
	case <-timer.C:
		return WakeTimeout
	}
}
