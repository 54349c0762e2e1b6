// Package crawler implements the bounded contact-crawl engine and its types.
package crawler

import (
	"context"
	"time"

	"github.com/leadharvest/leadharvest/internal/extract"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the store.
const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// CrawlStatus describes how far a crawl of one business got.
type CrawlStatus string

// Crawl status values. NotCrawled is the pre-crawl default and is never
// produced by the engine itself.
const (
	StatusNotCrawled CrawlStatus = "not_crawled"
	StatusPartial    CrawlStatus = "partial"
	StatusCompleted  CrawlStatus = "completed"
)

// Job is one unit of crawl work for a single business website.
type Job struct {
	ID           string    `json:"id"`
	BusinessID   string    `json:"business_id"`
	DatasetID    string    `json:"dataset_id"`
	WebsiteURL   string    `json:"website_url"`
	Status       JobStatus `json:"status"`
	PagesLimit   int       `json:"pages_limit"`
	PagesCrawled int       `json:"pages_crawled"`
	Attempts     int       `json:"attempts"`
	ErrorText    string    `json:"error_text,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SocialLinks maps the supported platforms to the first profile URL seen.
type SocialLinks struct {
	Facebook  string `json:"facebook,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
	YouTube   string `json:"youtube,omitempty"`
}

// PageError records one non-fatal fetch failure inside a crawl.
type PageError struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

// Result is the authoritative crawl outcome for one (business, dataset) pair.
// At most one Result row exists per pair; upserts never regress the original
// creation timestamp.
type Result struct {
	BusinessID   string              `json:"business_id"`
	DatasetID    string              `json:"dataset_id"`
	WebsiteURL   string              `json:"website_url"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
	PagesVisited int                 `json:"pages_visited"`
	CrawlStatus  CrawlStatus         `json:"crawl_status"`
	Emails       []extract.Candidate `json:"emails"`
	Phones       []extract.Candidate `json:"phones"`
	ContactPages []string            `json:"contact_pages"`
	Social       SocialLinks         `json:"social"`
	Errors       []PageError         `json:"errors"`
}

// Page is a fetched page handed from the Fetcher to the engine.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Fetcher fetches a single URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}
