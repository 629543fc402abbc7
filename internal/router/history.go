package router

import (
	"time"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
)

// Status is the delivery state recorded for a message in the history.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Entry is one message's record in the delivery history.
type Entry struct {
	MessageID    string        `json:"message_id"`
	Sender       string        `json:"sender"`
	Recipient    string        `json:"recipient"`
	Type         message.Type  `json:"message_type"`
	Priority     task.Priority `json:"priority"`
	Timestamp    time.Time     `json:"timestamp"`
	Status       Status        `json:"status"`
	DeliveryTime time.Duration `json:"delivery_time,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// history is a fixed-capacity ring of entries, oldest overwritten first.
type history struct {
	buf  []Entry
	head int // index of the oldest entry
	size int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]Entry, capacity)}
}

func (h *history) add(e Entry) {
	if h.size < len(h.buf) {
		h.buf[(h.head+h.size)%len(h.buf)] = e
		h.size++
		return
	}
	h.buf[h.head] = e
	h.head = (h.head + 1) % len(h.buf)
}

// update applies fn to the newest entry for messageID, if still retained.
func (h *history) update(messageID string, fn func(*Entry)) {
	for i := h.size - 1; i >= 0; i-- {
		e := &h.buf[(h.head+i)%len(h.buf)]
		if e.MessageID == messageID {
			fn(e)
			return
		}
	}
}

// list returns up to limit entries, oldest first, involving agentID as
// sender or recipient (all entries when agentID is empty). Only the most
// recent limit matches are kept.
func (h *history) list(agentID string, limit int) []Entry {
	out := make([]Entry, 0, min(limit, h.size))
	for i := h.size - 1; i >= 0 && len(out) < limit; i-- {
		e := h.buf[(h.head+i)%len(h.buf)]
		if agentID != "" && e.Sender != agentID && e.Recipient != agentID {
			continue
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (h *history) count() int { return h.size }
