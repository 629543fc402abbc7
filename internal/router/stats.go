package router

import (
	"fmt"
	"time"
)

type counters struct {
	sent        uint64
	delivered   uint64
	failed      uint64
	avgDelivery time.Duration
}

// observe folds a delivery time into the exponential moving average. The
// first delivery seeds the average directly.
func (c *counters) observe(d time.Duration) {
	if c.delivered <= 1 {
		c.avgDelivery = d
		return
	}
	c.avgDelivery = time.Duration(emaAlpha*float64(d) + (1-emaAlpha)*float64(c.avgDelivery))
}

// Stats is a snapshot of router activity.
type Stats struct {
	Running             bool           `json:"running"`
	RegisteredAgents    int            `json:"registered_agents"`
	MessagesSent        uint64         `json:"messages_sent"`
	MessagesDelivered   uint64         `json:"messages_delivered"`
	MessagesFailed      uint64         `json:"messages_failed"`
	AverageDeliveryTime time.Duration  `json:"average_delivery_time"`
	QueueSizes          map[string]int `json:"current_queue_sizes"`
	PendingResponses    int            `json:"pending_responses"`
	HistorySize         int            `json:"message_history_size"`
}

// Health is the outcome of HealthCheck.
type Health struct {
	Status           string   `json:"status"`
	Healthy          bool     `json:"healthy"`
	RegisteredAgents int      `json:"registered_agents"`
	TotalQueueSize   int      `json:"total_queue_size"`
	PendingResponses int      `json:"pending_responses"`
	Issues           []string `json:"issues"`
	Statistics       Stats    `json:"statistics"`
}

// Statistics returns a snapshot of counters and queue depths. QueueSizes
// lists only recipients with queued messages.
func (r *Router) Statistics() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

func (r *Router) statsLocked() Stats {
	sizes := map[string]int{}
	for id, rc := range r.recipients {
		if d := rc.depth(); d > 0 {
			sizes[id] = d
		}
	}
	return Stats{
		Running:             r.running,
		RegisteredAgents:    len(r.recipients),
		MessagesSent:        r.stats.sent,
		MessagesDelivered:   r.stats.delivered,
		MessagesFailed:      r.stats.failed,
		AverageDeliveryTime: r.stats.avgDelivery,
		QueueSizes:          sizes,
		PendingResponses:    len(r.pending),
		HistorySize:         r.history.count(),
	}
}

// HealthCheck reports running state and warnings for recipients whose queue
// depth exceeds 80% of the cap and for a pending-request backlog above the
// configured threshold.
func (r *Router) HealthCheck() Health {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.statsLocked()
	h := Health{
		Status:           "healthy",
		RegisteredAgents: st.RegisteredAgents,
		PendingResponses: st.PendingResponses,
		Issues:           []string{},
		Statistics:       st,
	}
	if !r.running {
		h.Status = "stopped"
		h.Issues = append(h.Issues, "router is not running")
	}

	limit := int(float64(r.maxQueue) * queueWarnRatio)
	for _, id := range r.order {
		d := st.QueueSizes[id]
		h.TotalQueueSize += d
		if d > limit {
			h.Issues = append(h.Issues, fmt.Sprintf("queue for %s approaching limit: %d/%d", id, d, r.maxQueue))
		}
	}
	if st.PendingResponses > r.pendingWarn {
		h.Issues = append(h.Issues, fmt.Sprintf("high number of pending responses: %d", st.PendingResponses))
	}

	h.Healthy = r.running && len(h.Issues) == 0
	return h
}

// History returns up to limit recent entries, oldest first, involving
// agentID as sender or recipient. An empty agentID matches all entries and
// a non-positive limit uses DefaultHistoryLimit.
func (r *Router) History(agentID string, limit int) []Entry {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.list(agentID, limit)
}
