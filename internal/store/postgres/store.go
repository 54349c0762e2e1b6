// Package postgres implements the primary Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadharvest/leadharvest/internal/crawler"
	"github.com/leadharvest/leadharvest/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the narrow pgxpool surface the store needs. pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store is the Postgres-backed implementation of store.Store.
// Schema: see migrations/0001_init.sql.
type Store struct {
	pool pool
}

// New connects a pool using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for tests).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// GetDataset loads a dataset and its businesses.
func (s *Store) GetDataset(ctx context.Context, datasetID string) (store.Dataset, error) {
	var ds store.Dataset
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, name, created_at
FROM datasets
WHERE id = $1`, datasetID).Scan(&ds.ID, &ds.UserID, &ds.Name, &ds.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Dataset{}, store.ErrNotFound
		}
		return store.Dataset{}, fmt.Errorf("select dataset: %w", err)
	}

	businesses, err := s.loadBusinesses(ctx, ds.ID)
	if err != nil {
		return store.Dataset{}, err
	}
	ds.Businesses = businesses
	return ds, nil
}

// GetLatestDataset returns the newest dataset owned by userID.
func (s *Store) GetLatestDataset(ctx context.Context, userID string) (store.Dataset, error) {
	var ds store.Dataset
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, name, created_at
FROM datasets
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 1`, userID).Scan(&ds.ID, &ds.UserID, &ds.Name, &ds.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Dataset{}, store.ErrNotFound
		}
		return store.Dataset{}, fmt.Errorf("select latest dataset: %w", err)
	}

	businesses, err := s.loadBusinesses(ctx, ds.ID)
	if err != nil {
		return store.Dataset{}, err
	}
	ds.Businesses = businesses
	return ds, nil
}

func (s *Store) loadBusinesses(ctx context.Context, datasetID string) ([]store.Business, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, COALESCE(website_url, ''), COALESCE(category, ''), COALESCE(address, '')
FROM businesses
WHERE dataset_id = $1
ORDER BY name`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("select businesses: %w", err)
	}
	defer rows.Close()

	var out []store.Business
	for rows.Next() {
		var b store.Business
		if err := rows.Scan(&b.ID, &b.Name, &b.WebsiteURL, &b.Category, &b.Address); err != nil {
			return nil, fmt.Errorf("scan business: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate businesses: %w", err)
	}
	return out, nil
}

// CreateDatasetSnapshot stores one snapshot per dataset, replacing any
// previous one.
func (s *Store) CreateDatasetSnapshot(ctx context.Context, snap store.DatasetSnapshot) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO dataset_snapshots (id, dataset_id, user_id, created_at, expires_at, data)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (dataset_id) DO UPDATE SET
	id = EXCLUDED.id,
	user_id = EXCLUDED.user_id,
	created_at = EXCLUDED.created_at,
	expires_at = EXCLUDED.expires_at,
	data = EXCLUDED.data`,
		snap.ID, snap.DatasetID, snap.UserID, snap.CreatedAt, snap.ExpiresAt, []byte(snap.Data))
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// GetDatasetSnapshot loads the snapshot for a dataset.
func (s *Store) GetDatasetSnapshot(ctx context.Context, datasetID string) (store.DatasetSnapshot, error) {
	var snap store.DatasetSnapshot
	var data []byte
	err := s.pool.QueryRow(ctx, `
SELECT id, dataset_id, user_id, created_at, expires_at, data
FROM dataset_snapshots
WHERE dataset_id = $1`, datasetID).
		Scan(&snap.ID, &snap.DatasetID, &snap.UserID, &snap.CreatedAt, &snap.ExpiresAt, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.DatasetSnapshot{}, store.ErrNotFound
		}
		return store.DatasetSnapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	snap.Data = json.RawMessage(data)
	return snap, nil
}

// CreateCrawlJob inserts a job row.
func (s *Store) CreateCrawlJob(ctx context.Context, job crawler.Job) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_jobs (id, business_id, dataset_id, website_url, status, pages_limit, pages_crawled, attempts, error_text, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.BusinessID, job.DatasetID, job.WebsiteURL, string(job.Status),
		job.PagesLimit, job.PagesCrawled, job.Attempts, job.ErrorText, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert crawl job: %w", err)
	}
	return nil
}

// UpdateCrawlJob updates the mutable fields of a job row.
func (s *Store) UpdateCrawlJob(ctx context.Context, job crawler.Job) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_jobs
SET status = $2, pages_crawled = $3, attempts = $4, error_text = $5
WHERE id = $1`,
		job.ID, string(job.Status), job.PagesCrawled, job.Attempts, job.ErrorText)
	if err != nil {
		return fmt.Errorf("update crawl job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetCrawlJob loads one job row.
func (s *Store) GetCrawlJob(ctx context.Context, jobID string) (crawler.Job, error) {
	var job crawler.Job
	var status string
	err := s.pool.QueryRow(ctx, `
SELECT id, business_id, dataset_id, website_url, status, pages_limit, pages_crawled, attempts, error_text, created_at
FROM crawl_jobs
WHERE id = $1`, jobID).Scan(
		&job.ID, &job.BusinessID, &job.DatasetID, &job.WebsiteURL, &status,
		&job.PagesLimit, &job.PagesCrawled, &job.Attempts, &job.ErrorText, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, store.ErrNotFound
		}
		return crawler.Job{}, fmt.Errorf("select crawl job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	return job, nil
}

// SavePage inserts one fetched-page row.
func (s *Store) SavePage(ctx context.Context, page store.PageRow) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO pages (job_id, dataset_id, url, status_code, content_type, fetched_at, blob_uri)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		page.JobID, page.DatasetID, page.URL, page.StatusCode, page.ContentType, page.FetchedAt, page.BlobURI)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// SaveContacts inserts denormalized contact rows.
func (s *Store) SaveContacts(ctx context.Context, rows []store.ContactRow) error {
	for _, row := range rows {
		_, err := s.pool.Exec(ctx, `
INSERT INTO contacts (business_id, dataset_id, kind, value, source_url)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (business_id, dataset_id, kind, value, source_url) DO NOTHING`,
			row.BusinessID, row.DatasetID, row.Kind, row.Value, row.SourceURL)
		if err != nil {
			return fmt.Errorf("insert contact: %w", err)
		}
	}
	return nil
}

// UpsertCrawlResult writes the authoritative result for a (business, dataset)
// pair. The unique constraint makes concurrent writers converge on one row;
// created_at and started_at survive re-crawls.
func (s *Store) UpsertCrawlResult(ctx context.Context, result crawler.Result) error {
	emails, err := json.Marshal(result.Emails)
	if err != nil {
		return fmt.Errorf("marshal emails: %w", err)
	}
	phones, err := json.Marshal(result.Phones)
	if err != nil {
		return fmt.Errorf("marshal phones: %w", err)
	}
	social, err := json.Marshal(result.Social)
	if err != nil {
		return fmt.Errorf("marshal social: %w", err)
	}
	pageErrors, err := json.Marshal(result.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO crawl_results (
	business_id, dataset_id, website_url, started_at, finished_at,
	pages_visited, crawl_status, emails, phones, contact_pages, social, errors,
	created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW()
)
ON CONFLICT (business_id, dataset_id) DO UPDATE SET
	website_url = EXCLUDED.website_url,
	started_at = crawl_results.started_at,
	finished_at = EXCLUDED.finished_at,
	pages_visited = EXCLUDED.pages_visited,
	crawl_status = EXCLUDED.crawl_status,
	emails = EXCLUDED.emails,
	phones = EXCLUDED.phones,
	contact_pages = EXCLUDED.contact_pages,
	social = EXCLUDED.social,
	errors = EXCLUDED.errors,
	updated_at = NOW()`,
		result.BusinessID, result.DatasetID, result.WebsiteURL,
		result.StartedAt, result.FinishedAt, result.PagesVisited,
		string(result.CrawlStatus), emails, phones, result.ContactPages, social, pageErrors)
	if err != nil {
		return fmt.Errorf("upsert crawl result: %w", err)
	}
	return nil
}

// GetCrawlResult loads the stored result for a (business, dataset) pair.
func (s *Store) GetCrawlResult(ctx context.Context, businessID, datasetID string) (store.StoredResult, error) {
	var (
		stored     store.StoredResult
		status     string
		emails     []byte
		phones     []byte
		social     []byte
		pageErrors []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT business_id, dataset_id, website_url, started_at, finished_at,
	pages_visited, crawl_status, emails, phones, contact_pages, social, errors,
	created_at, updated_at
FROM crawl_results
WHERE business_id = $1 AND dataset_id = $2`, businessID, datasetID).Scan(
		&stored.BusinessID, &stored.DatasetID, &stored.WebsiteURL,
		&stored.StartedAt, &stored.FinishedAt, &stored.PagesVisited, &status,
		&emails, &phones, &stored.ContactPages, &social, &pageErrors,
		&stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.StoredResult{}, store.ErrNotFound
		}
		return store.StoredResult{}, fmt.Errorf("select crawl result: %w", err)
	}
	stored.CrawlStatus = crawler.CrawlStatus(status)

	if err := json.Unmarshal(emails, &stored.Emails); err != nil {
		return store.StoredResult{}, fmt.Errorf("unmarshal emails: %w", err)
	}
	if err := json.Unmarshal(phones, &stored.Phones); err != nil {
		return store.StoredResult{}, fmt.Errorf("unmarshal phones: %w", err)
	}
	if err := json.Unmarshal(social, &stored.Social); err != nil {
		return store.StoredResult{}, fmt.Errorf("unmarshal social: %w", err)
	}
	if err := json.Unmarshal(pageErrors, &stored.Errors); err != nil {
		return store.StoredResult{}, fmt.Errorf("unmarshal errors: %w", err)
	}
	return stored, nil
}

// GetExportRows joins businesses with their crawl results.
func (s *Store) GetExportRows(ctx context.Context, datasetID string, limit int) ([]store.ExportRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
SELECT b.id, b.name, COALESCE(b.website_url, ''),
	COALESCE(r.emails, '[]'), COALESCE(r.phones, '[]'),
	COALESCE(r.contact_pages, '{}'), COALESCE(r.created_at, to_timestamp(0))
FROM businesses b
LEFT JOIN crawl_results r ON r.business_id = b.id AND r.dataset_id = b.dataset_id
WHERE b.dataset_id = $1
ORDER BY b.name
LIMIT $2`, datasetID, limit)
	if err != nil {
		return nil, fmt.Errorf("select export rows: %w", err)
	}
	defer rows.Close()

	var out []store.ExportRow
	for rows.Next() {
		var (
			row          store.ExportRow
			emails       []byte
			phones       []byte
			contactPages []string
		)
		if err := rows.Scan(&row.BusinessID, &row.BusinessName, &row.WebsiteURL,
			&emails, &phones, &contactPages, &row.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		row.Emails = uniqueValues(emails)
		row.Phones = uniqueValues(phones)
		if len(contactPages) > 0 {
			row.ContactPage = contactPages[0]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export rows: %w", err)
	}
	return out, nil
}

// uniqueValues extracts distinct candidate values from a JSON array of
// {value, source_url} objects.
func uniqueValues(data []byte) []string {
	var candidates []struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil
	}
	seen := make(map[string]struct{}, len(candidates))
	var out []string
	for _, c := range candidates {
		if _, dup := seen[c.Value]; dup {
			continue
		}
		seen[c.Value] = struct{}{}
		out = append(out, c.Value)
	}
	return out
}
