package worker

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadharvest/leadharvest/internal/crawler"
	"github.com/leadharvest/leadharvest/internal/extract"
	"github.com/leadharvest/leadharvest/internal/publisher"
	pubmemory "github.com/leadharvest/leadharvest/internal/publisher/memory"
	"github.com/leadharvest/leadharvest/internal/queue"
	"github.com/leadharvest/leadharvest/internal/store"
	"github.com/leadharvest/leadharvest/internal/store/localfs"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, url string) (crawler.Page, error) {
	return crawler.Page{
		URL:         url,
		StatusCode:  200,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte("<html>ok</html>"),
	}, nil
}

type fakeEngine struct {
	fetcher crawler.Fetcher
	result  crawler.Result
	err     error
}

func (e *fakeEngine) Crawl(ctx context.Context, businessID, datasetID, websiteURL string, _, _ int) (crawler.Result, error) {
	if e.err != nil {
		return crawler.Result{}, e.err
	}
	// Simulate the engine fetching the homepage through the wrapped fetcher.
	if _, err := e.fetcher.Fetch(ctx, websiteURL); err != nil {
		return crawler.Result{}, err
	}
	r := e.result
	r.BusinessID = businessID
	r.DatasetID = datasetID
	r.WebsiteURL = websiteURL
	return r, nil
}

type stubBlob struct {
	mu    sync.Mutex
	paths []string
}

func (b *stubBlob) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths = append(b.paths, path)
	return "mem://" + path, nil
}

func newTestWorker(t *testing.T, engine *fakeEngine, blobs *stubBlob, pub publisher.Provider) (*Worker, *queue.Queue, *localfs.Store) {
	t.Helper()

	st, err := localfs.New(t.TempDir())
	require.NoError(t, err)

	tasks := queue.New(4)
	factory := func(f crawler.Fetcher) Crawler {
		engine.fetcher = f
		return engine
	}
	w := New(tasks, st, stubFetcher{}, factory, blobs, pub,
		fakeClock{now: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)},
		Config{Topic: "crawl.completed", RetainPages: true}, nil)
	return w, tasks, st
}

func seedJob(t *testing.T, st *localfs.Store) crawler.Job {
	t.Helper()
	job := crawler.Job{
		ID:         "job-1",
		BusinessID: "b-1",
		DatasetID:  "ds-1",
		WebsiteURL: "https://acme.example",
		Status:     crawler.JobStatusQueued,
		PagesLimit: 5,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.CreateCrawlJob(context.Background(), job))
	return job
}

func TestProcessTaskSuccess(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{result: crawler.Result{
		StartedAt:    time.Now().UTC(),
		FinishedAt:   time.Now().UTC(),
		PagesVisited: 3,
		CrawlStatus:  crawler.StatusCompleted,
		Emails: []extract.Candidate{
			{Value: "info@acme.example", SourceURL: "https://acme.example/contact"},
		},
		Phones: []extract.Candidate{
			{Value: "+302101234567", SourceURL: "https://acme.example/contact"},
		},
	}}
	blobs := &stubBlob{}
	pub := pubmemory.New()
	w, _, st := newTestWorker(t, engine, blobs, pub)
	job := seedJob(t, st)
	ctx := context.Background()

	w.processTask(ctx, queue.Task{
		JobID:      job.ID,
		BusinessID: job.BusinessID,
		DatasetID:  job.DatasetID,
		WebsiteURL: job.WebsiteURL,
		MaxDepth:   1,
		PagesLimit: 5,
	})

	got, err := st.GetCrawlJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusSuccess, got.Status)
	assert.Equal(t, 3, got.PagesCrawled)
	assert.Equal(t, 1, got.Attempts)

	stored, err := st.GetCrawlResult(ctx, "b-1", "ds-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, stored.CrawlStatus)
	require.Len(t, stored.Emails, 1)

	require.Len(t, blobs.paths, 1, "the fetched homepage body is retained")
	assert.Contains(t, blobs.paths[0], "datasets/ds-1/jobs/job-1/pages/")

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "crawl.completed", msgs[0].Topic)
	event, ok := msgs[0].Payload.(publisher.CrawlCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "completed", event.CrawlStatus)
	assert.Equal(t, 1, event.EmailsFound)
}

func TestProcessTaskEngineFailure(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{err: errors.New("seed urls: invalid url")}
	pub := pubmemory.New()
	w, _, st := newTestWorker(t, engine, &stubBlob{}, pub)
	job := seedJob(t, st)
	ctx := context.Background()

	w.processTask(ctx, queue.Task{JobID: job.ID, BusinessID: job.BusinessID, DatasetID: job.DatasetID})

	got, err := st.GetCrawlJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorText, "seed urls")

	_, err = st.GetCrawlResult(ctx, job.BusinessID, job.DatasetID)
	assert.ErrorIs(t, err, store.ErrNotFound, "failed crawls persist no result")
	assert.Empty(t, pub.Messages())
}

func TestProcessTaskUnknownJob(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	w, _, st := newTestWorker(t, engine, &stubBlob{}, pubmemory.New())

	w.processTask(context.Background(), queue.Task{JobID: "job-missing"})

	_, err := st.GetCrawlJob(context.Background(), "job-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{result: crawler.Result{CrawlStatus: crawler.StatusCompleted, PagesVisited: 1}}
	w, tasks, st := newTestWorker(t, engine, &stubBlob{}, pubmemory.New())
	job := seedJob(t, st)

	require.NoError(t, tasks.Enqueue(context.Background(), queue.Task{
		JobID:      job.ID,
		BusinessID: job.BusinessID,
		DatasetID:  job.DatasetID,
		WebsiteURL: job.WebsiteURL,
	}))
	tasks.Close()

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after queue close")
	}

	got, err := st.GetCrawlJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusSuccess, got.Status)
}

func TestCapturingFetcherCopiesPages(t *testing.T) {
	t.Parallel()

	c := &capturingFetcher{base: stubFetcher{}}
	_, err := c.Fetch(context.Background(), "https://acme.example/")
	require.NoError(t, err)

	pages := c.pages()
	require.Len(t, pages, 1)
	assert.True(t, strings.HasPrefix(pages[0].URL, "https://acme.example"))

	pages[0].URL = "mutated"
	assert.NotEqual(t, "mutated", c.pages()[0].URL)
}
