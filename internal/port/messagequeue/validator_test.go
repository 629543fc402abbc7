package messagequeue

import (
	"errors"
	"strings"
	"testing"
)

func TestInboxSubject(t *testing.T) {
	if got := InboxSubject("advisor-1"); got != "agents.inbox.advisor-1" {
		t.Errorf("InboxSubject = %q", got)
	}
}

func TestValidateInbox(t *testing.T) {
	data := []byte(`{"id":"m1","type":"task_request","sender":"a","recipient":"b","content":{}}`)
	if err := Validate(InboxSubject("b"), data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInboxMissingFields(t *testing.T) {
	err := Validate(InboxSubject("b"), []byte(`{"id":"m1","sender":"a"}`))
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestValidateAgentStatus(t *testing.T) {
	if err := Validate(SubjectAgentStatus, []byte(`{"agent_id":"a1","status":"active"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(SubjectAgentStatus, []byte(`{"status":"active"}`)); !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestValidateWrongFieldType(t *testing.T) {
	err := Validate(SubjectAgentStatus, []byte(`{"agent_id":42}`))
	if err == nil || !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(InboxSubject("x"), []byte("not-json"))
	if err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected invalid JSON error, got %v", err)
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	if err := Validate("agents.other", []byte(`{"anything":true}`)); err != nil {
		t.Fatalf("unknown subject should pass: %v", err)
	}
}
