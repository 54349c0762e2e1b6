// Package localfs implements the fallback Store as JSON documents on disk.
//
// Layout, per dataset:
//
//	<base>/datasets/<dataset_id>/businesses.json   dataset + businesses
//	<base>/datasets/<dataset_id>/contacts.json     denormalized contact rows
//	<base>/datasets/<dataset_id>/pages.json        fetched page records
//	<base>/datasets/<dataset_id>/index.json        business id -> crawl status
//	<base>/datasets/<dataset_id>/crawl/<job>.json  crawl jobs
//	<base>/datasets/<dataset_id>/crawl/results/<business>.json
//
// Snapshots and account-level documents live under <base>/.local-persistence/
// ({users,datasets,exports,usage}.json). Every write goes through a temp
// file and rename so a crash never leaves a half-written document.
package localfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leadharvest/leadharvest/internal/crawler"
	"github.com/leadharvest/leadharvest/internal/store"
)

// Store persists everything as JSON files under a base directory.
type Store struct {
	baseDir string
	mu      sync.Mutex
}

// New creates the base directory if needed and verifies it is writable.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(filepath.Join(baseDir, ".local-persistence"), 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	probe := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// HealthCheck verifies the base directory is still present and writable.
func (s *Store) HealthCheck(_ context.Context) error {
	probe := filepath.Join(s.baseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("local store unwritable: %w", err)
	}
	return os.Remove(probe)
}

func (s *Store) datasetDir(datasetID string) string {
	return filepath.Join(s.baseDir, "datasets", datasetID)
}

func (s *Store) persistencePath(doc string) string {
	return filepath.Join(s.baseDir, ".local-persistence", doc+".json")
}

// writeJSONAtomic writes v as JSON via a temp file and rename.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("read document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal document %s: %w", filepath.Base(path), err)
	}
	return nil
}

// GetDataset loads one dataset document.
func (s *Store) GetDataset(_ context.Context, datasetID string) (store.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ds store.Dataset
	err := readJSON(filepath.Join(s.datasetDir(datasetID), "businesses.json"), &ds)
	return ds, err
}

// PutDataset writes a dataset document. Used by the discovery path and by
// tests to seed local state.
func (s *Store) PutDataset(_ context.Context, ds store.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(filepath.Join(s.datasetDir(ds.ID), "businesses.json"), ds)
}

// GetLatestDataset returns the newest dataset owned by userID.
func (s *Store) GetLatestDataset(_ context.Context, userID string) (store.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := filepath.Join(s.baseDir, "datasets")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return store.Dataset{}, store.ErrNotFound
		}
		return store.Dataset{}, fmt.Errorf("list datasets: %w", err)
	}

	var datasets []store.Dataset
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var ds store.Dataset
		if err := readJSON(filepath.Join(root, entry.Name(), "businesses.json"), &ds); err != nil {
			continue
		}
		if ds.UserID == userID {
			datasets = append(datasets, ds)
		}
	}
	if len(datasets) == 0 {
		return store.Dataset{}, store.ErrNotFound
	}
	sort.Slice(datasets, func(i, j int) bool {
		return datasets[i].CreatedAt.After(datasets[j].CreatedAt)
	})
	return datasets[0], nil
}

// CreateDatasetSnapshot stores the snapshot in the shared datasets document.
func (s *Store) CreateDatasetSnapshot(_ context.Context, snap store.DatasetSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots := make(map[string]store.DatasetSnapshot)
	if err := readJSON(s.persistencePath("datasets"), &snapshots); err != nil && err != store.ErrNotFound {
		return err
	}
	snapshots[snap.DatasetID] = snap
	return writeJSONAtomic(s.persistencePath("datasets"), snapshots)
}

// GetDatasetSnapshot loads the snapshot for a dataset, if any.
func (s *Store) GetDatasetSnapshot(_ context.Context, datasetID string) (store.DatasetSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots := make(map[string]store.DatasetSnapshot)
	if err := readJSON(s.persistencePath("datasets"), &snapshots); err != nil {
		return store.DatasetSnapshot{}, err
	}
	snap, ok := snapshots[datasetID]
	if !ok {
		return store.DatasetSnapshot{}, store.ErrNotFound
	}
	return snap, nil
}

// CreateCrawlJob writes the job document and its index entry.
func (s *Store) CreateCrawlJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.datasetDir(job.DatasetID), "crawl", job.ID+".json")
	if err := writeJSONAtomic(path, job); err != nil {
		return err
	}
	return s.updateIndex(job.DatasetID, job.BusinessID, string(job.Status))
}

// UpdateCrawlJob overwrites the job document.
func (s *Store) UpdateCrawlJob(ctx context.Context, job crawler.Job) error {
	return s.CreateCrawlJob(ctx, job)
}

// GetCrawlJob scans dataset crawl directories for the job document.
func (s *Store) GetCrawlJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := filepath.Join(s.baseDir, "datasets")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return crawler.Job{}, store.ErrNotFound
		}
		return crawler.Job{}, fmt.Errorf("list datasets: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var job crawler.Job
		path := filepath.Join(root, entry.Name(), "crawl", jobID+".json")
		if err := readJSON(path, &job); err == nil {
			return job, nil
		}
	}
	return crawler.Job{}, store.ErrNotFound
}

// updateIndex maintains the business -> status map. Caller holds the lock.
func (s *Store) updateIndex(datasetID, businessID, status string) error {
	path := filepath.Join(s.datasetDir(datasetID), "index.json")
	index := make(map[string]string)
	if err := readJSON(path, &index); err != nil && err != store.ErrNotFound {
		return err
	}
	index[businessID] = status
	return writeJSONAtomic(path, index)
}

// SavePage appends one page record to the dataset's pages document.
func (s *Store) SavePage(_ context.Context, page store.PageRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.datasetDir(page.DatasetID), "pages.json")
	var pages []store.PageRow
	if err := readJSON(path, &pages); err != nil && err != store.ErrNotFound {
		return err
	}
	pages = append(pages, page)
	return writeJSONAtomic(path, pages)
}

// SaveContacts appends contact rows to the dataset's contacts document.
func (s *Store) SaveContacts(_ context.Context, rows []store.ContactRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.datasetDir(rows[0].DatasetID), "contacts.json")
	var existing []store.ContactRow
	if err := readJSON(path, &existing); err != nil && err != store.ErrNotFound {
		return err
	}
	existing = append(existing, rows...)
	return writeJSONAtomic(path, existing)
}

// UpsertCrawlResult writes the authoritative result for a (business, dataset)
// pair. The original creation and start timestamps survive re-crawls; the
// atomic rename guarantees readers never see a half-updated result.
func (s *Store) UpsertCrawlResult(_ context.Context, result crawler.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.resultPath(result.DatasetID, result.BusinessID)
	now := time.Now().UTC()

	stored := store.StoredResult{Result: result, CreatedAt: now, UpdatedAt: now}
	var previous store.StoredResult
	if err := readJSON(path, &previous); err == nil {
		stored.CreatedAt = previous.CreatedAt
		if !previous.StartedAt.IsZero() {
			stored.StartedAt = previous.StartedAt
		}
	} else if err != store.ErrNotFound {
		return err
	}

	if err := writeJSONAtomic(path, stored); err != nil {
		return err
	}
	return s.updateIndex(result.DatasetID, result.BusinessID, string(result.CrawlStatus))
}

// GetCrawlResult loads the stored result for a (business, dataset) pair.
func (s *Store) GetCrawlResult(_ context.Context, businessID, datasetID string) (store.StoredResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored store.StoredResult
	err := readJSON(s.resultPath(datasetID, businessID), &stored)
	return stored, err
}

func (s *Store) resultPath(datasetID, businessID string) string {
	return filepath.Join(s.datasetDir(datasetID), "crawl", "results", businessID+".json")
}

// GetExportRows joins businesses with their crawl results.
func (s *Store) GetExportRows(_ context.Context, datasetID string, limit int) ([]store.ExportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ds store.Dataset
	if err := readJSON(filepath.Join(s.datasetDir(datasetID), "businesses.json"), &ds); err != nil {
		return nil, err
	}

	rows := make([]store.ExportRow, 0, len(ds.Businesses))
	for _, biz := range ds.Businesses {
		if limit > 0 && len(rows) >= limit {
			break
		}
		row := store.ExportRow{
			BusinessID:   biz.ID,
			BusinessName: biz.Name,
			WebsiteURL:   biz.WebsiteURL,
		}
		var stored store.StoredResult
		if err := readJSON(s.resultPath(datasetID, biz.ID), &stored); err == nil {
			for _, e := range stored.Emails {
				row.Emails = appendUnique(row.Emails, e.Value)
			}
			for _, p := range stored.Phones {
				row.Phones = appendUnique(row.Phones, p.Value)
			}
			if len(stored.ContactPages) > 0 {
				row.ContactPage = stored.ContactPages[0]
			}
			row.FirstSeenAt = stored.CreatedAt
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func appendUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}

// Close is a no-op for the filesystem store.
func (s *Store) Close() {}
