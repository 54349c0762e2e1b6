// Package queue provides the bounded in-memory crawl work queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Task is one unit of crawl work handed from the API to the worker.
type Task struct {
	JobID      string
	BusinessID string
	DatasetID  string
	WebsiteURL string
	MaxDepth   int
	PagesLimit int
}

// Queue is a bounded FIFO with context-aware operations.
type Queue struct {
	ch      chan Task
	closeMu sync.Mutex
	closed  bool
}

// New constructs a queue with the provided capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Task, capacity)}
}

// Enqueue pushes a task or returns when the context ends.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// TryEnqueue pushes a task without blocking. It reports whether the task
// was accepted.
func (q *Queue) TryEnqueue(task Task) bool {
	select {
	case q.ch <- task:
		return true
	default:
		return false
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case <-ctx.Done():
		return Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return Task{}, ErrClosed
		}
		return task, nil
	}
}

// Len reports the number of queued tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Queued tasks remain
// dequeueable until drained.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
