// Package message defines the envelope agents exchange through the router
// and the protocol helpers that build and inspect it.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
)

// Type identifies the purpose of a message.
type Type string

const (
	TypeTaskRequest          Type = "task_request"
	TypeTaskResponse         Type = "task_response"
	TypeStatusUpdate         Type = "status_update"
	TypeErrorReport          Type = "error_report"
	TypeCollaborationRequest Type = "collaboration_request"
	TypeWorkflowControl      Type = "workflow_control"
)

// Valid reports whether t is one of the six recognized message types.
func (t Type) Valid() bool {
	switch t {
	case TypeTaskRequest, TypeTaskResponse, TypeStatusUpdate,
		TypeErrorReport, TypeCollaborationRequest, TypeWorkflowControl:
		return true
	}
	return false
}

// ErrInvalidType is returned by Unmarshal for an unrecognized message type.
var ErrInvalidType = errors.New("message: invalid type")

// Message is the routed envelope. It is a value object: the router copies
// it in and out and never hands out references to queued messages.
type Message struct {
	ID               string         `json:"id"`
	Type             Type           `json:"type"`
	Sender           string         `json:"sender"`
	Recipient        string         `json:"recipient"`
	Priority         task.Priority  `json:"priority"`
	Timestamp        time.Time      `json:"timestamp"`
	Content          map[string]any `json:"content"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
	RequiresResponse bool           `json:"requires_response"`
}

// New creates a medium-priority message with a fresh ID and timestamp.
func New(typ Type, sender, recipient string, content map[string]any) Message {
	if content == nil {
		content = map[string]any{}
	}
	return Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Sender:    sender,
		Recipient: recipient,
		Priority:  task.PriorityMedium,
		Timestamp: time.Now().UTC(),
		Content:   content,
	}
}

// Clone returns a copy whose content map is independent of m's.
// Nested values are shared.
func (m Message) Clone() Message {
	c := m
	c.Content = maps.Clone(m.Content)
	if c.Content == nil {
		c.Content = map[string]any{}
	}
	return c
}

// Marshal encodes m into its wire form.
func Marshal(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message %s: %w", m.ID, err)
	}
	return data, nil
}

// Unmarshal decodes a wire-form message. Unknown priorities decode as medium.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	if !m.Type.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidType, m.Type)
	}
	if !m.Priority.Valid() {
		m.Priority = task.PriorityMedium
	}
	if m.Content == nil {
		m.Content = map[string]any{}
	}
	return m, nil
}
