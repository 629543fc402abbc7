package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
)

func (r *Router) loop(ctx context.Context, done chan struct{}) {
	defer r.shutdown(done)

	idle := time.NewTimer(r.idle)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if r.pass(ctx) {
			continue
		}
		idle.Reset(r.idle)
		select {
		case <-ctx.Done():
			return
		case <-r.notify:
		case <-idle.C:
		}
	}
}

// pass delivers at most one message per recipient and reports whether any
// message was delivered.
func (r *Router) pass(ctx context.Context) bool {
	delivered := false
	for _, id := range r.Recipients() {
		if ctx.Err() != nil {
			return delivered
		}
		r.mu.Lock()
		rc, ok := r.recipients[id]
		if !ok {
			r.mu.Unlock()
			continue
		}
		msg, ok := rc.pop()
		h := rc.handler
		r.mu.Unlock()
		if !ok {
			continue
		}
		r.deliver(ctx, h, msg)
		delivered = true
	}
	return delivered
}

func (r *Router) deliver(ctx context.Context, h Handler, msg message.Message) {
	start := time.Now()
	result, err := invoke(ctx, h, msg)
	elapsed := time.Since(start)
	deferred := errors.Is(err, ErrReplyLater)
	failed := err != nil && !deferred

	r.mu.Lock()
	if failed {
		r.stats.failed++
		r.history.update(msg.ID, func(e *Entry) {
			e.Status = StatusFailed
			e.DeliveryTime = elapsed
			e.Error = err.Error()
		})
	} else {
		r.stats.delivered++
		r.stats.observe(elapsed)
		r.history.update(msg.ID, func(e *Entry) {
			e.Status = StatusDelivered
			e.DeliveryTime = elapsed
		})
	}
	var ch chan reply
	if msg.RequiresResponse && !deferred {
		ch = r.pending[msg.ID]
	}
	r.mu.Unlock()

	if ch != nil {
		if failed {
			fulfil(ch, reply{err: err})
		} else {
			fulfil(ch, reply{msg: responseFor(msg, result)})
		}
	}

	if failed {
		slog.Error("router delivery failed", "message_id", msg.ID, "recipient", msg.Recipient, "error", err)
		r.emit(Event{Kind: EventFailed, Message: msg, Duration: elapsed, Err: err})
		return
	}
	slog.Debug("router message delivered", "message_id", msg.ID, "recipient", msg.Recipient, "duration", elapsed)
	r.emit(Event{Kind: EventDelivered, Message: msg, Duration: elapsed})
}

// invoke calls h, converting a panic into an error.
func invoke(ctx context.Context, h Handler, msg message.Message) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, msg)
}

// responseFor turns a handler result into the reply for req.
func responseFor(req message.Message, result any) *message.Message {
	switch v := result.(type) {
	case message.Message:
		return &v
	case *message.Message:
		if v != nil {
			return v
		}
	}
	content := map[string]any{}
	if result != nil {
		content["response"] = result
	}
	resp := message.New(message.TypeTaskResponse, req.Recipient, req.Sender, content)
	resp.CorrelationID = req.ID
	resp.Priority = req.Priority
	return &resp
}
