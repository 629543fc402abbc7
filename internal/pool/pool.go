// Package pool bounds how many tasks run at once.
package pool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent work using a weighted semaphore.
type Pool struct {
	sem     *semaphore.Weighted
	limit   int
	running atomic.Int64
	waiting atomic.Int64
}

// New creates a Pool that allows at most limit concurrent runs.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Run acquires a slot, runs fn, and releases the slot. It blocks while all
// slots are busy and returns ctx.Err() if ctx ends first. A nil Pool runs fn
// directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		return err
	}
	defer p.sem.Release(1)

	p.running.Add(1)
	defer p.running.Add(-1)
	return fn()
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Limit   int   `json:"limit"`
	Running int64 `json:"running"`
	Waiting int64 `json:"waiting"`
}

// Stats returns the current occupancy.
func (p *Pool) Stats() Stats {
	return Stats{Limit: p.limit, Running: p.running.Load(), Waiting: p.waiting.Load()}
}
