package router

import (
	"time"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
)

// EventKind classifies router events reported to observers.
type EventKind string

const (
	EventQueued    EventKind = "queued"
	EventRejected  EventKind = "rejected"
	EventDelivered EventKind = "delivered"
	EventFailed    EventKind = "failed"
)

// Event describes one state change of a routed message.
type Event struct {
	Kind     EventKind
	Message  message.Message
	Duration time.Duration
	Reason   string
	Err      error
}

// Observer receives router events. Observe is called synchronously from the
// router's goroutines, outside its lock, and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }
