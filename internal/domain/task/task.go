// Package task defines the Task domain entity processed by agents.
package task

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders work in the pipeline and in the router queues.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Priorities lists all priorities from highest to lowest.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Rank returns 0 for critical through 3 for low. Unknown values rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ParsePriority converts s to a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return PriorityMedium
	}
	return p
}

// Role tags the kind of agent a task requires.
type Role string

const (
	RoleDomainAdvisor       Role = "domain_advisor"
	RoleSolutionArchitect   Role = "solution_architect"
	RoleSoftwareArchitect   Role = "software_architect"
	RoleFrontendCoder       Role = "frontend_coder"
	RoleBackendCoder        Role = "backend_coder"
	RoleInfrastructureCoder Role = "infrastructure_coder"
	RoleTestingAgent        Role = "testing_agent"
	RoleQualityReviewer     Role = "quality_reviewer"
	RoleMasterOrchestrator  Role = "master_orchestrator"
)

// Status represents the processing state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ErrTitleRequired is returned by Validate for a task without a title.
var ErrTitleRequired = errors.New("task title is required")

// Task is a unit of work submitted to an agent. It is treated as immutable
// once submitted and is passed by value between components.
type Task struct {
	ID           string         `json:"task_id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Requirements []string       `json:"requirements"`
	Priority     Priority       `json:"priority"`
	RequiredRole Role           `json:"required_agent_role,omitempty"`
	Dependencies []string       `json:"dependencies"`
	Metadata     map[string]any `json:"metadata"`
	Context      map[string]any `json:"context"`
	CreatedAt    time.Time      `json:"created_at"`
	Deadline     *time.Time     `json:"deadline,omitempty"`
}

// New creates a task with a fresh ID, medium priority and the current time.
func New(title, description string, requirements ...string) Task {
	return Task{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		Requirements: requirements,
		Priority:     PriorityMedium,
		Dependencies: []string{},
		Metadata:     map[string]any{},
		Context:      map[string]any{},
		CreatedAt:    time.Now().UTC(),
	}
}

// Validate checks the fields a submitted task must carry and fills in
// defaults for the optional ones.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrTitleRequired
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if !t.Priority.Valid() {
		t.Priority = PriorityMedium
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return nil
}

// MetaString returns a string metadata value or def when absent.
func (t Task) MetaString(key, def string) string {
	if v, ok := t.Metadata[key].(string); ok && v != "" {
		return v
	}
	return def
}
