// Package store defines the persistence contract shared by the primary
// (Postgres) and fallback (local filesystem) backends, plus the resolver
// that fails over between them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/leadharvest/leadharvest/internal/crawler"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable means no backend could serve the request.
	ErrUnavailable = errors.New("store: no healthy backend available")
)

// SnapshotTTL is how long a dataset snapshot stays fresh.
const SnapshotTTL = 30 * 24 * time.Hour

// Business is one business inside a dataset.
type Business struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	WebsiteURL string `json:"website_url,omitempty"`
	Category   string `json:"category,omitempty"`
	Address    string `json:"address,omitempty"`
}

// Dataset is a user-owned collection of businesses.
type Dataset struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	Businesses []Business `json:"businesses"`
}

// DatasetSnapshot is a frozen copy of a dataset's businesses and contacts.
// ExpiresAt is always CreatedAt + SnapshotTTL.
type DatasetSnapshot struct {
	ID        string          `json:"id"`
	DatasetID string          `json:"dataset_id"`
	UserID    string          `json:"user_id"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Data      json.RawMessage `json:"data"`
}

// Fresh reports whether the snapshot is still inside its TTL at now.
func (s DatasetSnapshot) Fresh(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// PageRow records one fetched page, with the blob URI of the raw body.
type PageRow struct {
	JobID       string    `json:"job_id"`
	DatasetID   string    `json:"dataset_id"`
	URL         string    `json:"url"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	FetchedAt   time.Time `json:"fetched_at"`
	BlobURI     string    `json:"blob_uri,omitempty"`
}

// ContactRow is one denormalized contact candidate for querying/export.
type ContactRow struct {
	BusinessID string `json:"business_id"`
	DatasetID  string `json:"dataset_id"`
	Kind       string `json:"kind"`
	Value      string `json:"value"`
	SourceURL  string `json:"source_url"`
}

// StoredResult is a crawl result as persisted, with row timestamps.
type StoredResult struct {
	crawler.Result
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExportRow is one line of a contact export.
type ExportRow struct {
	BusinessID   string    `json:"business_id"`
	BusinessName string    `json:"business_name"`
	WebsiteURL   string    `json:"website_url"`
	Emails       []string  `json:"emails"`
	Phones       []string  `json:"phones"`
	ContactPage  string    `json:"contact_page,omitempty"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
}

// Store is the uniform persistence contract. Both backends implement it and
// the resolver exposes it, so callers never know which backend answered.
type Store interface {
	HealthCheck(ctx context.Context) error

	GetDataset(ctx context.Context, datasetID string) (Dataset, error)
	GetLatestDataset(ctx context.Context, userID string) (Dataset, error)

	CreateDatasetSnapshot(ctx context.Context, snap DatasetSnapshot) error
	GetDatasetSnapshot(ctx context.Context, datasetID string) (DatasetSnapshot, error)

	CreateCrawlJob(ctx context.Context, job crawler.Job) error
	UpdateCrawlJob(ctx context.Context, job crawler.Job) error
	GetCrawlJob(ctx context.Context, jobID string) (crawler.Job, error)

	SavePage(ctx context.Context, page PageRow) error
	SaveContacts(ctx context.Context, rows []ContactRow) error

	UpsertCrawlResult(ctx context.Context, result crawler.Result) error
	GetCrawlResult(ctx context.Context, businessID, datasetID string) (StoredResult, error)

	GetExportRows(ctx context.Context, datasetID string, limit int) ([]ExportRow, error)

	Close()
}
