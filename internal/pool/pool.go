// Package pool runs blocking work (external tool invocations) with a
// process-wide concurrency bound and a per-task deadline.
package pool

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent blocking tasks using a weighted semaphore.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// New creates a Pool that allows at most limit concurrent tasks, each
// bounded by timeout. A timeout <= 0 leaves tasks bounded only by the caller's context.
func New(limit int, timeout time.Duration) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(limit)),
		timeout: timeout,
	}
}

// Do acquires a slot, runs fn with a context carrying the task deadline,
// and releases the slot. Returns ctx.Err() if the context is cancelled
// while waiting for a slot. A nil Pool runs fn directly.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if p == nil || p.sem == nil {
		return fn(ctx)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return fn(ctx)
}
