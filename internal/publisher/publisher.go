// Package publisher defines the event publishing interface for crawl
// lifecycle notifications.
package publisher

import (
	"context"
	"time"
)

// Provider publishes a payload to a named topic and returns the message ID.
type Provider interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// CrawlCompletedEvent is emitted after a crawl result is persisted.
type CrawlCompletedEvent struct {
	JobID        string    `json:"job_id"`
	BusinessID   string    `json:"business_id"`
	DatasetID    string    `json:"dataset_id"`
	CrawlStatus  string    `json:"crawl_status"`
	PagesVisited int       `json:"pages_visited"`
	EmailsFound  int       `json:"emails_found"`
	PhonesFound  int       `json:"phones_found"`
	FinishedAt   time.Time `json:"finished_at"`
}

// NoOp drops every event. Used when no broker is configured.
type NoOp struct{}

// Publish for NoOp does nothing and returns an empty ID.
func (NoOp) Publish(_ context.Context, _ string, _ any) (string, error) { return "", nil }

// Close for NoOp does nothing.
func (NoOp) Close() error { return nil }
