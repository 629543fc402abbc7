package messagequeue

// InboxPayload is the minimal structure required of agents.inbox.* messages.
// The full payload is a wire-form message.Message.
type InboxPayload struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
}

// AgentStatusPayload is the schema for agents.status messages.
type AgentStatusPayload struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
	Host    string `json:"host,omitempty"`
}
