// Package discovery triggers re-crawling of datasets whose snapshots have
// expired. Requests are queued fire-and-forget and drained by a single
// worker, so at most one discovery runs at a time.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/leadharvest/leadharvest/internal/metrics"
	"github.com/leadharvest/leadharvest/internal/plan"
)

const defaultQueueCapacity = 64

// Request asks for one dataset to be re-discovered.
type Request struct {
	UserID      string
	DatasetID   string
	Tier        plan.Tier
	RequestedAt time.Time
}

// Queue is a bounded FIFO of discovery requests. Push never blocks; when
// the queue is full the oldest request is dropped, since a newer request
// for the same dataset supersedes it anyway.
type Queue struct {
	ch chan Request
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Queue{ch: make(chan Request, capacity)}
}

// Push appends a request without blocking. It reports whether the request
// was accepted.
func (q *Queue) Push(req Request) bool {
	select {
	case q.ch <- req:
		return true
	default:
	}

	// Full: evict the oldest and retry once.
	select {
	case <-q.ch:
		metrics.ObserveDiscoveryDrop()
	default:
	}
	select {
	case q.ch <- req:
		return true
	default:
		metrics.ObserveDiscoveryDrop()
		return false
	}
}

// Pop blocks for the next request, respecting context cancellation.
func (q *Queue) Pop(ctx context.Context) (Request, error) {
	select {
	case <-ctx.Done():
		return Request{}, fmt.Errorf("discovery pop canceled: %w", ctx.Err())
	case req := <-q.ch:
		return req, nil
	}
}

// Len reports the number of pending requests.
func (q *Queue) Len() int {
	return len(q.ch)
}
