package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSchema wraps structural validation failures.
var ErrSchema = errors.New("schema validation failed")

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case strings.HasPrefix(subject, SubjectAgentInbox+"."):
		var p InboxPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%w for %s: %w", ErrSchema, subject, err)
		}
		if p.ID == "" || p.Type == "" || p.Recipient == "" {
			return fmt.Errorf("%w for %s: id, type and recipient are required", ErrSchema, subject)
		}
	case subject == SubjectAgentStatus:
		var p AgentStatusPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%w for %s: %w", ErrSchema, subject, err)
		}
		if p.AgentID == "" {
			return fmt.Errorf("%w for %s: agent_id is required", ErrSchema, subject)
		}
	}
	return nil
}
