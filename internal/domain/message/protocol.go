package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
)

// Version is the protocol version stamped into every built message.
const Version = "1.0"

// Protocol names carried in the content "protocol" key.
const (
	ProtocolTaskRequest    = "task_request"
	ProtocolTaskResponse   = "task_response"
	ProtocolStatusUpdate   = "status_update"
	ProtocolErrorReport    = "error_report"
	ProtocolCollaboration  = "collaboration_request"
	ProtocolWorkflow       = "workflow_control"
	ProtocolHeartbeat      = "heartbeat"
	ProtocolServiceRequest = "service_request"
)

var (
	// ErrWrongType is returned when extracting a payload from a message of
	// another type.
	ErrWrongType = errors.New("message: wrong type for extraction")
	// ErrMissingPayload is returned when the expected nested object is absent.
	ErrMissingPayload = errors.New("message: missing payload")
)

func stamp(content map[string]any, protocol string) map[string]any {
	content["message_version"] = Version
	content["protocol"] = protocol
	return content
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// toMap converts a JSON-tagged value to its generic map form so that message
// content stays opaque and serializable.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromMap(src any, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// NewTaskRequest builds a task_request carrying t. It always requires a response.
func NewTaskRequest(sender, recipient string, t task.Task, priority task.Priority) (Message, error) {
	payload, err := toMap(t)
	if err != nil {
		return Message{}, fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	m := New(TypeTaskRequest, sender, recipient, stamp(map[string]any{"task": payload}, ProtocolTaskRequest))
	m.Priority = priority
	m.RequiresResponse = true
	return m, nil
}

// NewTaskResponse builds a task_response for taskID correlated to the request.
func NewTaskResponse(sender, recipient, taskID, correlationID string, resp agent.Response) (Message, error) {
	payload, err := toMap(resp)
	if err != nil {
		return Message{}, fmt.Errorf("encode response for %s: %w", taskID, err)
	}
	m := New(TypeTaskResponse, sender, recipient, stamp(map[string]any{
		"task_id":  taskID,
		"response": payload,
	}, ProtocolTaskResponse))
	m.CorrelationID = correlationID
	return m, nil
}

// NewStatusUpdate builds a low-priority status_update.
func NewStatusUpdate(sender, recipient, status, taskID string, details map[string]any) Message {
	if details == nil {
		details = map[string]any{}
	}
	m := New(TypeStatusUpdate, sender, recipient, stamp(map[string]any{
		"status":    status,
		"details":   details,
		"task_id":   taskID,
		"timestamp": now(),
	}, ProtocolStatusUpdate))
	m.Priority = task.PriorityLow
	return m
}

// NewErrorReport builds a high-priority error_report.
func NewErrorReport(sender, recipient, errText, taskID string, errContext map[string]any) Message {
	if errContext == nil {
		errContext = map[string]any{}
	}
	m := New(TypeErrorReport, sender, recipient, stamp(map[string]any{
		"error":     errText,
		"context":   errContext,
		"task_id":   taskID,
		"timestamp": now(),
	}, ProtocolErrorReport))
	m.Priority = task.PriorityHigh
	return m
}

// NewCollaborationRequest builds a collaboration_request that requires a response.
func NewCollaborationRequest(sender, recipient, kind string, data map[string]any, priority task.Priority) Message {
	m := New(TypeCollaborationRequest, sender, recipient, stamp(map[string]any{
		"collaboration_type": kind,
		"data":               data,
		"timestamp":          now(),
	}, ProtocolCollaboration))
	m.Priority = priority
	m.RequiresResponse = true
	return m
}

// NewWorkflowControl builds a high-priority workflow_control command.
func NewWorkflowControl(sender, recipient, command string, data map[string]any) Message {
	m := New(TypeWorkflowControl, sender, recipient, stamp(map[string]any{
		"command":       command,
		"workflow_data": data,
		"timestamp":     now(),
	}, ProtocolWorkflow))
	m.Priority = task.PriorityHigh
	return m
}

// NewHeartbeat builds a low-priority status_update used for liveness.
func NewHeartbeat(sender, recipient string, status map[string]any) Message {
	if status == nil {
		status = map[string]any{"state": "active"}
	}
	m := New(TypeStatusUpdate, sender, recipient, stamp(map[string]any{
		"type":      "heartbeat",
		"status":    status,
		"timestamp": now(),
	}, ProtocolHeartbeat))
	m.Priority = task.PriorityLow
	return m
}

// ServiceRequest asks a shared service agent to perform an operation.
type ServiceRequest struct {
	ServiceType string         `json:"service_type"`
	Operation   string         `json:"operation"`
	Data        map[string]any `json:"data"`
	Context     map[string]any `json:"context"`
	RequesterID string         `json:"requester_id"`
	RequestID   string         `json:"request_id"`
}

// NewServiceRequest wraps req in a collaboration_request.
func NewServiceRequest(sender, recipient string, req ServiceRequest, priority task.Priority) (Message, error) {
	payload, err := toMap(req)
	if err != nil {
		return Message{}, fmt.Errorf("encode service request: %w", err)
	}
	m := New(TypeCollaborationRequest, sender, recipient,
		stamp(map[string]any{"service_request": payload}, ProtocolServiceRequest))
	m.Priority = priority
	m.RequiresResponse = true
	return m, nil
}

// TaskFromMessage extracts the task carried by a task_request.
func TaskFromMessage(m Message) (task.Task, error) {
	if m.Type != TypeTaskRequest {
		return task.Task{}, fmt.Errorf("%w: %s", ErrWrongType, m.Type)
	}
	raw, ok := m.Content["task"]
	if !ok {
		return task.Task{}, fmt.Errorf("%w: task", ErrMissingPayload)
	}
	var t task.Task
	if err := fromMap(raw, &t); err != nil {
		return task.Task{}, fmt.Errorf("decode task: %w", err)
	}
	if err := t.Validate(); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

// ResponseFromMessage extracts the agent response carried by a task_response.
func ResponseFromMessage(m Message) (agent.Response, error) {
	if m.Type != TypeTaskResponse {
		return agent.Response{}, fmt.Errorf("%w: %s", ErrWrongType, m.Type)
	}
	raw, ok := m.Content["response"]
	if !ok {
		return agent.Response{}, fmt.Errorf("%w: response", ErrMissingPayload)
	}
	var r agent.Response
	if err := fromMap(raw, &r); err != nil {
		return agent.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return r, nil
}
