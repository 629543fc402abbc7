package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
	"github.com/mhylle/multi-agent-coding-system/internal/router"
)

// Event type constants for WebSocket messages.
const (
	EventMessageQueued    = "message.queued"
	EventMessageRejected  = "message.rejected"
	EventMessageDelivered = "message.delivered"
	EventMessageFailed    = "message.failed"
	EventAgentStatus      = "agent.status"
)

var eventTypes = map[router.EventKind]string{
	router.EventQueued:    EventMessageQueued,
	router.EventRejected:  EventMessageRejected,
	router.EventDelivered: EventMessageDelivered,
	router.EventFailed:    EventMessageFailed,
}

// MessageEvent is broadcast for every routed message state change.
type MessageEvent struct {
	MessageID     string       `json:"message_id"`
	Type          message.Type `json:"message_type"`
	Sender        string       `json:"sender"`
	Recipient     string       `json:"recipient"`
	Priority      string       `json:"priority"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	DurationMS    float64      `json:"duration_ms,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Error         string       `json:"error,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// AgentStatusEvent is broadcast when an agent reports a status update.
type AgentStatusEvent struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
	TaskID  string `json:"task_id,omitempty"`
}

// Observe implements router.Observer. It never blocks the router.
func (h *Hub) Observe(e router.Event) {
	typ, ok := eventTypes[e.Kind]
	if !ok {
		return
	}
	m := e.Message
	ev := MessageEvent{
		MessageID:     m.ID,
		Type:          m.Type,
		Sender:        m.Sender,
		Recipient:     m.Recipient,
		Priority:      string(m.Priority),
		CorrelationID: m.CorrelationID,
		Reason:        e.Reason,
		Timestamp:     time.Now().UTC(),
	}
	if e.Duration > 0 {
		ev.DurationMS = float64(e.Duration) / float64(time.Millisecond)
	}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	h.enqueueEvent(typ, ev, m.Sender, m.Recipient)

	if e.Kind == router.EventDelivered && m.Type == message.TypeStatusUpdate {
		status, _ := m.Content["status"].(string)
		taskID, _ := m.Content["task_id"].(string)
		h.enqueueEvent(EventAgentStatus, AgentStatusEvent{AgentID: m.Sender, Status: status, TaskID: taskID}, m.Sender)
	}
}

func (h *Hub) enqueueEvent(eventType string, payload any, agents ...string) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	h.Enqueue(Message{Type: eventType, Payload: data, agents: agents})
}
