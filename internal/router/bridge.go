package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
	"github.com/mhylle/multi-agent-coding-system/internal/port/messagequeue"
)

// ErrRejected is returned to the queue when an imported message could not
// be queued locally, so that the queue redelivers it.
var ErrRejected = errors.New("router: imported message rejected")

// Bridge relays messages between a local Router and agents in other
// processes over a message queue. Each agent id has an inbox subject.
//
// Export makes a remote agent addressable locally: messages sent to it are
// published to its inbox and requests stay pending until a correlated reply
// comes back. Import feeds a local agent's inbox into the router and
// publishes handler results of requests back to the requester's inbox.
type Bridge struct {
	router  *Router
	queue   messagequeue.Queue
	timeout time.Duration

	mu   sync.Mutex
	subs []func()
	wg   sync.WaitGroup
}

// NewBridge creates a bridge. A non-positive timeout uses the router's
// request timeout for requests received from remote agents.
func NewBridge(r *Router, q messagequeue.Queue, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = r.requestTimeout
	}
	return &Bridge{router: r, queue: q, timeout: timeout}
}

// Export registers remoteID as a local recipient that forwards to the remote
// agent's inbox.
func (b *Bridge) Export(remoteID string) error {
	return b.router.Register(remoteID, func(ctx context.Context, msg message.Message) (any, error) {
		data, err := message.Marshal(msg)
		if err != nil {
			return nil, err
		}
		if err := b.queue.Publish(ctx, messagequeue.InboxSubject(msg.Recipient), data); err != nil {
			return nil, fmt.Errorf("bridge export to %s: %w", msg.Recipient, err)
		}
		if msg.RequiresResponse {
			return nil, ErrReplyLater
		}
		return nil, nil
	})
}

// Import subscribes to localID's inbox. Messages arriving there are sent
// through the router; correlated replies complete pending requests.
func (b *Bridge) Import(ctx context.Context, localID string) error {
	cancel, err := b.queue.Subscribe(ctx, messagequeue.InboxSubject(localID), func(_ context.Context, _ string, data []byte) error {
		msg, err := message.Unmarshal(data)
		if err != nil {
			return err
		}
		if msg.RequiresResponse && msg.CorrelationID == "" {
			b.serve(ctx, msg)
			return nil
		}
		if !b.router.Send(msg) {
			if msg.CorrelationID != "" {
				slog.Warn("bridge dropped stale reply", "message_id", msg.ID, "correlation_id", msg.CorrelationID)
				return nil
			}
			return fmt.Errorf("%w: %s to %s", ErrRejected, msg.ID, msg.Recipient)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bridge import %s: %w", localID, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, cancel)
	b.mu.Unlock()

	b.Announce(ctx, localID, "online")
	slog.Info("bridge importing inbox", "agent_id", localID)
	return nil
}

// serve runs a remote request through the local router and publishes the
// reply, or an error report, to the requester's inbox.
func (b *Bridge) serve(ctx context.Context, req message.Message) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		resp, err := b.router.SendRequest(ctx, req, b.timeout)
		var out message.Message
		switch {
		case err != nil:
			out = message.NewErrorReport(req.Recipient, req.Sender, err.Error(), "", map[string]any{"request_id": req.ID})
		case resp != nil:
			out = *resp
		default:
			return
		}
		out.CorrelationID = req.ID
		out.Recipient = req.Sender

		data, err := message.Marshal(out)
		if err != nil {
			slog.Error("bridge reply encode failed", "request_id", req.ID, "error", err)
			return
		}
		if err := b.queue.Publish(ctx, messagequeue.InboxSubject(req.Sender), data); err != nil {
			slog.Error("bridge reply publish failed", "request_id", req.ID, "recipient", req.Sender, "error", err)
		}
	}()
}

// Announce publishes an agent status change. Failures are logged only.
func (b *Bridge) Announce(ctx context.Context, agentID, status string) {
	host, _ := os.Hostname()
	data, err := json.Marshal(messagequeue.AgentStatusPayload{AgentID: agentID, Status: status, Host: host})
	if err != nil {
		return
	}
	if err := b.queue.Publish(ctx, messagequeue.SubjectAgentStatus, data); err != nil {
		slog.Warn("bridge status publish failed", "agent_id", agentID, "error", err)
	}
}

// Close cancels all inbox subscriptions and waits for in-flight remote
// requests to finish.
func (b *Bridge) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	b.wg.Wait()
}
