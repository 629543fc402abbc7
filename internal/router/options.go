package router

import "time"

const (
	DefaultMaxQueueSize         = 1000
	DefaultHistoryRetention     = 10000
	DefaultIdleInterval         = 10 * time.Millisecond
	DefaultPendingWarnThreshold = 50
	DefaultRequestTimeout       = 30 * time.Second
	DefaultHistoryLimit         = 100

	// queueWarnRatio is the fraction of MaxQueueSize above which a
	// recipient's depth is reported as a health warning.
	queueWarnRatio = 0.8
	// emaAlpha weights the newest sample of the delivery-time average.
	emaAlpha = 0.1
)

// Option customizes Router construction.
type Option func(*Router)

// WithMaxQueueSize caps the number of messages queued per recipient.
func WithMaxQueueSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxQueue = n
		}
	}
}

// WithHistoryRetention bounds the delivery history ring.
func WithHistoryRetention(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.history = newHistory(n)
		}
	}
}

// WithIdleInterval sets how long the delivery loop sleeps after a pass that
// delivered nothing. A new Send wakes it early.
func WithIdleInterval(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.idle = d
		}
	}
}

// WithPendingWarnThreshold sets the pending-request count above which
// HealthCheck reports a warning.
func WithPendingWarnThreshold(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.pendingWarn = n
		}
	}
}

// WithRequestTimeout sets the wait used by SendRequest when called with a
// non-positive timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.requestTimeout = d
		}
	}
}

// WithObserver registers an observer for queue and delivery events.
func WithObserver(o Observer) Option {
	return func(r *Router) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}
