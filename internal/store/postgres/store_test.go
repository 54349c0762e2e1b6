package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadharvest/leadharvest/internal/crawler"
	"github.com/leadharvest/leadharvest/internal/extract"
	"github.com/leadharvest/leadharvest/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	assert.Error(t, err)
}

func TestHealthCheckPings(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectPing()

	require.NoError(t, s.HealthCheck(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCrawlResult(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	started := time.Unix(1700000000, 0).UTC()
	result := crawler.Result{
		BusinessID:   "b-1",
		DatasetID:    "ds-1",
		WebsiteURL:   "https://acme.example",
		StartedAt:    started,
		FinishedAt:   started.Add(time.Minute),
		PagesVisited: 3,
		CrawlStatus:  crawler.StatusCompleted,
		Emails: []extract.Candidate{
			{Value: "info@acme.example", SourceURL: "https://acme.example/contact"},
		},
		ContactPages: []string{"https://acme.example/contact"},
	}

	emails, err := json.Marshal(result.Emails)
	require.NoError(t, err)
	phones, err := json.Marshal(result.Phones)
	require.NoError(t, err)
	social, err := json.Marshal(result.Social)
	require.NoError(t, err)
	pageErrors, err := json.Marshal(result.Errors)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO crawl_results").
		WithArgs(
			result.BusinessID,
			result.DatasetID,
			result.WebsiteURL,
			result.StartedAt,
			result.FinishedAt,
			result.PagesVisited,
			string(result.CrawlStatus),
			emails,
			phones,
			result.ContactPages,
			social,
			pageErrors,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertCrawlResult(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCrawlResultNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM crawl_results").
		WithArgs("b-1", "ds-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCrawlResult(context.Background(), "b-1", "ds-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCrawlResultScansJSONColumns(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"business_id", "dataset_id", "website_url", "started_at", "finished_at",
		"pages_visited", "crawl_status", "emails", "phones", "contact_pages",
		"social", "errors", "created_at", "updated_at",
	}).AddRow(
		"b-1", "ds-1", "https://acme.example", now, now.Add(time.Minute),
		3, "completed",
		[]byte(`[{"value":"info@acme.example","source_url":"https://acme.example/"}]`),
		[]byte(`[]`),
		[]string{"https://acme.example/contact"},
		[]byte(`{"facebook":"https://facebook.com/acme"}`),
		[]byte(`[]`),
		now, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM crawl_results").
		WithArgs("b-1", "ds-1").
		WillReturnRows(rows)

	stored, err := s.GetCrawlResult(context.Background(), "b-1", "ds-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, stored.CrawlStatus)
	require.Len(t, stored.Emails, 1)
	assert.Equal(t, "info@acme.example", stored.Emails[0].Value)
	assert.Equal(t, "https://facebook.com/acme", stored.Social.Facebook)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCrawlJob(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	job := crawler.Job{
		ID:         "job-1",
		BusinessID: "b-1",
		DatasetID:  "ds-1",
		WebsiteURL: "https://acme.example",
		Status:     crawler.JobStatusQueued,
		PagesLimit: 5,
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs(job.ID, job.BusinessID, job.DatasetID, job.WebsiteURL, "queued",
			job.PagesLimit, 0, 0, "", job.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateCrawlJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCrawlJobNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("job-x", "running", 0, 0, "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateCrawlJob(context.Background(), crawler.Job{ID: "job-x", Status: crawler.JobStatusRunning})
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDatasetWithBusinesses(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT (.+) FROM datasets").
		WithArgs("ds-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "created_at"}).
			AddRow("ds-1", "u-1", "plumbers", now))

	mock.ExpectQuery("SELECT (.+) FROM businesses").
		WithArgs("ds-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "website_url", "category", "address"}).
			AddRow("b-1", "Acme", "https://acme.example", "plumbing", "Athens"))

	ds, err := s.GetDataset(context.Background(), "ds-1")
	require.NoError(t, err)
	assert.Equal(t, "plumbers", ds.Name)
	require.Len(t, ds.Businesses, 1)
	assert.Equal(t, "https://acme.example", ds.Businesses[0].WebsiteURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveContactsInsertsEachRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	rows := []store.ContactRow{
		{BusinessID: "b-1", DatasetID: "ds-1", Kind: "email", Value: "a@x.example", SourceURL: "https://x.example/"},
		{BusinessID: "b-1", DatasetID: "ds-1", Kind: "phone", Value: "+302101234567", SourceURL: "https://x.example/contact"},
	}
	for _, row := range rows {
		mock.ExpectExec("INSERT INTO contacts").
			WithArgs(row.BusinessID, row.DatasetID, row.Kind, row.Value, row.SourceURL).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	require.NoError(t, s.SaveContacts(context.Background(), rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDatasetSnapshot(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	created := time.Unix(1700000000, 0).UTC()
	snap := store.DatasetSnapshot{
		ID:        "snap-1",
		DatasetID: "ds-1",
		UserID:    "u-1",
		CreatedAt: created,
		ExpiresAt: created.Add(store.SnapshotTTL),
		Data:      []byte(`{"businesses":[]}`),
	}

	mock.ExpectExec("INSERT INTO dataset_snapshots").
		WithArgs(snap.ID, snap.DatasetID, snap.UserID, snap.CreatedAt, snap.ExpiresAt, []byte(snap.Data)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateDatasetSnapshot(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}
