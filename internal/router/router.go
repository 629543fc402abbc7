// Package router delivers messages between agents.
//
// Every registered recipient owns four queues, one per priority. A single
// delivery goroutine visits recipients in registration order and, per pass,
// hands each recipient the head of its highest non-empty queue. Scheduling
// is strictly by priority: under sustained critical or high traffic, medium
// and low messages for the same recipient are starved. There is no ordering
// guarantee across recipients.
//
// SendRequest adds request/response semantics on top: the caller waits on a
// pending slot keyed by the request's message ID until the handler's result
// arrives, a correlated reply is sent, the timeout elapses, or the router
// stops.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
)

// Handler processes one delivered message. Its result answers a pending
// request: a message.Message is used as the reply, any other value is
// wrapped into a task_response. Returning ErrReplyLater leaves the request
// open for a correlated reply sent through Send. A handler must not wait on
// a request to another recipient of the same router: delivery is serial.
type Handler func(ctx context.Context, msg message.Message) (any, error)

var (
	// ErrRequestTimeout is returned by SendRequest when no reply arrived in time.
	ErrRequestTimeout = errors.New("router: request timed out")
	// ErrNotQueued is returned by SendRequest when the request was rejected by Send.
	ErrNotQueued = errors.New("router: request not queued")
	// ErrRequestCancelled is returned by SendRequest when the router stopped or
	// the caller's context ended before a reply arrived.
	ErrRequestCancelled = errors.New("router: request cancelled")
	// ErrReplyLater is returned by a handler that will answer asynchronously.
	ErrReplyLater = errors.New("router: reply deferred")
	// ErrInvalidRecipient is returned by Register for an empty id or nil handler.
	ErrInvalidRecipient = errors.New("router: invalid recipient")
)

type recipient struct {
	handler Handler
	queues  [4][]message.Message // indexed by task.Priority.Rank
}

func (rc *recipient) depth() int {
	n := 0
	for _, q := range rc.queues {
		n += len(q)
	}
	return n
}

func (rc *recipient) pop() (message.Message, bool) {
	for i, q := range rc.queues {
		if len(q) == 0 {
			continue
		}
		msg := q[0]
		q[0] = message.Message{}
		rc.queues[i] = q[1:]
		return msg, true
	}
	return message.Message{}, false
}

type reply struct {
	msg *message.Message
	err error
}

// Router is a priority-aware, correlation-capable message router.
// All methods are safe for concurrent use.
type Router struct {
	mu         sync.Mutex
	recipients map[string]*recipient
	order      []string
	pending    map[string]chan reply
	history    *history
	stats      counters
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	notify     chan struct{}

	maxQueue       int
	idle           time.Duration
	pendingWarn    int
	requestTimeout time.Duration
	observers      []Observer
}

// New creates a stopped Router. Call Start to begin delivery.
func New(opts ...Option) *Router {
	r := &Router{
		recipients:     map[string]*recipient{},
		pending:        map[string]chan reply{},
		history:        newHistory(DefaultHistoryRetention),
		notify:         make(chan struct{}, 1),
		maxQueue:       DefaultMaxQueueSize,
		idle:           DefaultIdleInterval,
		pendingWarn:    DefaultPendingWarnThreshold,
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register adds a recipient or replaces the handler of an existing one.
// Messages already queued for it are kept.
func (r *Router) Register(id string, h Handler) error {
	if id == "" || h == nil {
		return ErrInvalidRecipient
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if rc, ok := r.recipients[id]; ok {
		rc.handler = h
		slog.Info("router recipient handler replaced", "recipient", id)
		return nil
	}
	r.recipients[id] = &recipient{handler: h}
	r.order = append(r.order, id)
	slog.Info("router recipient registered", "recipient", id)
	return nil
}

// Unregister removes a recipient and drops its queued messages.
func (r *Router) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rc, ok := r.recipients[id]
	if !ok {
		return
	}
	delete(r.recipients, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	slog.Info("router recipient unregistered", "recipient", id, "dropped", rc.depth())
}

// Recipients returns registered recipient ids in registration order.
func (r *Router) Recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Send queues msg for its recipient. It returns false without queuing when
// the router is stopped, the recipient is unknown, or the recipient's queue
// is full. A message whose CorrelationID names a pending request completes
// that request instead of being queued.
func (r *Router) Send(msg message.Message) bool {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if !msg.Priority.Valid() {
		msg.Priority = task.PriorityMedium
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		slog.Warn("router not running, message rejected", "message_id", msg.ID)
		r.emit(Event{Kind: EventRejected, Message: msg, Reason: "stopped"})
		return false
	}

	if msg.CorrelationID != "" {
		if ch, ok := r.pending[msg.CorrelationID]; ok && msg.CorrelationID != msg.ID {
			r.history.add(entryFor(msg, StatusDelivered))
			r.stats.sent++
			r.mu.Unlock()
			answer := msg
			fulfil(ch, reply{msg: &answer})
			r.emit(Event{Kind: EventDelivered, Message: msg, Reason: "correlated"})
			return true
		}
	}

	rc, ok := r.recipients[msg.Recipient]
	if !ok {
		r.mu.Unlock()
		slog.Warn("router recipient not registered", "recipient", msg.Recipient, "message_id", msg.ID)
		r.emit(Event{Kind: EventRejected, Message: msg, Reason: "unknown recipient"})
		return false
	}
	if rc.depth() >= r.maxQueue {
		r.mu.Unlock()
		slog.Warn("router queue full", "recipient", msg.Recipient, "max_queue_size", r.maxQueue)
		r.emit(Event{Kind: EventRejected, Message: msg, Reason: "queue full"})
		return false
	}

	rank := msg.Priority.Rank()
	rc.queues[rank] = append(rc.queues[rank], msg)
	r.history.add(entryFor(msg, StatusQueued))
	r.stats.sent++
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	slog.Debug("router message queued", "message_id", msg.ID, "sender", msg.Sender, "recipient", msg.Recipient, "priority", msg.Priority)
	r.emit(Event{Kind: EventQueued, Message: msg})
	return true
}

// SendRequest sends msg with RequiresResponse set and waits for its reply.
// A non-positive timeout uses the router's default. The pending slot is
// always released before returning. A timeout abandons only the wait: the
// queued message is still delivered.
func (r *Router) SendRequest(ctx context.Context, msg message.Message, timeout time.Duration) (*message.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.RequiresResponse = true
	if timeout <= 0 {
		timeout = r.requestTimeout
	}

	ch := make(chan reply, 1)
	r.mu.Lock()
	r.pending[msg.ID] = ch
	r.mu.Unlock()
	defer r.release(msg.ID)

	if !r.Send(msg) {
		return nil, ErrNotQueued
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rep := <-ch:
		return rep.msg, rep.err
	case <-timer.C:
		slog.Warn("router request timed out", "message_id", msg.ID, "recipient", msg.Recipient, "timeout", timeout)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrRequestCancelled, ctx.Err())
	}
}

// Broadcast sends an independent copy of msg to every registered recipient
// except the sender and the excluded ids. Each copy gets a fresh ID, its own
// recipient and a cloned content map. It returns the number of copies queued.
func (r *Router) Broadcast(msg message.Message, exclude ...string) int {
	targets := r.Recipients()

	sent := 0
	for _, id := range targets {
		if id == msg.Sender || slices.Contains(exclude, id) {
			continue
		}
		c := msg.Clone()
		c.ID = uuid.NewString()
		c.Recipient = id
		c.RequiresResponse = false
		if r.Send(c) {
			sent++
		}
	}
	slog.Info("router broadcast", "sender", msg.Sender, "type", msg.Type, "recipients", sent)
	return sent
}

// Start launches the delivery loop. It returns immediately; the loop runs
// until Stop is called or ctx ends. Starting a running router is a no-op.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, r.done)
	slog.Info("router started", "recipients", len(r.order), "max_queue_size", r.maxQueue)
}

// Stop halts the delivery loop, waits for it to exit and rejects every
// pending request with ErrRequestCancelled. Queued messages are kept and
// delivered if the router is started again.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the delivery loop is active.
func (r *Router) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// release removes a pending slot.
func (r *Router) release(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// shutdown marks the router stopped and cancels pending requests. It runs
// when the delivery loop exits.
func (r *Router) shutdown(done chan struct{}) {
	r.mu.Lock()
	r.running = false
	r.cancel = nil
	cancelled := len(r.pending)
	for _, ch := range r.pending {
		fulfil(ch, reply{err: ErrRequestCancelled})
	}
	r.mu.Unlock()

	close(done)
	slog.Info("router stopped", "cancelled_requests", cancelled)
}

func (r *Router) emit(e Event) {
	for _, o := range r.observers {
		o.Observe(e)
	}
}

// fulfil completes a pending slot once; later results are discarded.
func fulfil(ch chan reply, rep reply) {
	select {
	case ch <- rep:
	default:
	}
}

func entryFor(msg message.Message, status Status) Entry {
	return Entry{
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Type:      msg.Type,
		Priority:  msg.Priority,
		Timestamp: msg.Timestamp,
		Status:    status,
	}
}
