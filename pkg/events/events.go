package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the base interface for all events
type Event interface {
	ID() string
	Type() EventType
	Timestamp() time.Time
}

// EventType represents the type of event
type EventType string

const (
	EventTypeTick  EventType = "tick"
	EventTypeState EventType = "state"
)

// BaseEvent provides common event fields
type BaseEvent struct {
	EventID        string
	EventTimestamp time.Time
	EventType      EventType
}

func newBase(t EventType) BaseEvent {
	return BaseEvent{
		EventID:        uuid.NewString(),
		EventTimestamp: time.Now(),
		EventType:      t,
	}
}

func (e BaseEvent) ID() string {
	return e.EventID
}

func (e BaseEvent) Timestamp() time.Time {
	return e.EventTimestamp
}

func (e BaseEvent) Type() EventType {
	return e.EventType
}

// TickEvent describes one snapshot run of the scheduler
type TickEvent struct {
	BaseEvent
	Start   time.Time
	Elapsed time.Duration
	// Wait is the compensated sleep before the next tick, <= 0 when it is already due
	Wait  time.Duration
	Error string
}

func NewTickEvent(start time.Time, elapsed, wait time.Duration, err error) TickEvent {
	e := TickEvent{
		BaseEvent: newBase(EventTypeTick),
		Start:     start,
		Elapsed:   elapsed,
		Wait:      wait,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Failed reports whether the snapshot returned an error
func (e TickEvent) Failed() bool {
	return e.Error != ""
}

// StateEvent is emitted when the worker changes lifecycle state
type StateEvent struct {
	BaseEvent
	State  string
	Reason string
}

func NewStateEvent(state string, reason error) StateEvent {
	e := StateEvent{
		BaseEvent: newBase(EventTypeState),
		State:     state,
	}
	if reason != nil {
		e.Reason = reason.Error()
	}
	return e
}

// Payload returns the JSON-ready representation of an event, nil for unknown types
func Payload(event Event) map[string]interface{} {
	base := map[string]interface{}{
		"id":        event.ID(),
		"type":      string(event.Type()),
		"timestamp": event.Timestamp().Format(time.RFC3339Nano),
	}

	switch e := event.(type) {
	case TickEvent:
		base["start"] = e.Start.Format(time.RFC3339Nano)
		base["elapsed_ms"] = e.Elapsed.Milliseconds()
		base["wait_ms"] = e.Wait.Milliseconds()
		if e.Failed() {
			base["error"] = e.Error
		}
	case StateEvent:
		base["state"] = e.State
		if e.Reason != "" {
			base["reason"] = e.Reason
		}
	default:
		return nil
	}
	return base
}
