// Package messagequeue defines the message queue port used to reach agents
// running in other processes.
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects used between agent processes.
const (
	SubjectAgentInbox  = "agents.inbox"  // agents.inbox.{agent_id}: wire-form messages addressed to an agent
	SubjectAgentStatus = "agents.status" // heartbeats and lifecycle changes
)

// InboxSubject returns the inbox subject for agentID.
func InboxSubject(agentID string) string {
	return SubjectAgentInbox + "." + agentID
}
