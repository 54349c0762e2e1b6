// Package worker implements the crawl execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/blob"
	"github.com/leadharvest/leadharvest/internal/crawler"
	"github.com/leadharvest/leadharvest/internal/metrics"
	"github.com/leadharvest/leadharvest/internal/publisher"
	"github.com/leadharvest/leadharvest/internal/queue"
	"github.com/leadharvest/leadharvest/internal/store"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// Crawler runs one bounded crawl.
type Crawler interface {
	Crawl(ctx context.Context, businessID, datasetID, websiteURL string, maxDepth, pagesLimit int) (crawler.Result, error)
}

// EngineFactory builds a crawl engine around a fetcher. The worker wraps the
// base fetcher per task so fetched pages can be retained.
type EngineFactory func(fetcher crawler.Fetcher) Crawler

// Config controls Worker behavior.
type Config struct {
	Topic       string
	ContentType string
	RetainPages bool
}

// Worker consumes crawl tasks one at a time: run the engine, persist the
// result, retain page bodies, publish the completion event.
type Worker struct {
	tasks     *queue.Queue
	store     store.Store
	fetcher   crawler.Fetcher
	newEngine EngineFactory
	blobs     blob.Provider
	publisher publisher.Provider
	clock     Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	tasks *queue.Queue,
	st store.Store,
	fetcher crawler.Fetcher,
	newEngine EngineFactory,
	blobs blob.Provider,
	pub publisher.Provider,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if blobs == nil {
		blobs = blob.NoOp{}
	}
	if pub == nil {
		pub = publisher.NoOp{}
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Worker{
		tasks:     tasks,
		store:     st,
		fetcher:   fetcher,
		newEngine: newEngine,
		blobs:     blobs,
		publisher: pub,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming tasks until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.tasks.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		w.processTask(ctx, task)
	}
}

func (w *Worker) processTask(ctx context.Context, task queue.Task) {
	job, err := w.store.GetCrawlJob(ctx, task.JobID)
	if err != nil {
		w.logger.Error("load crawl job failed", zap.String("job_id", task.JobID), zap.Error(err))
		return
	}

	job.Status = crawler.JobStatusRunning
	job.Attempts++
	if err := w.store.UpdateCrawlJob(ctx, job); err != nil {
		w.logger.Error("mark job running failed", zap.String("job_id", task.JobID), zap.Error(err))
		return
	}

	capture := &capturingFetcher{base: w.fetcher}
	engine := w.newEngine(capture)

	result, err := engine.Crawl(ctx, task.BusinessID, task.DatasetID, task.WebsiteURL,
		task.MaxDepth, task.PagesLimit)
	if err != nil {
		w.finishJob(ctx, job, crawler.JobStatusFailed, err.Error(), 0)
		return
	}

	if err := w.store.UpsertCrawlResult(ctx, result); err != nil {
		w.logger.Error("upsert crawl result failed", zap.String("job_id", task.JobID), zap.Error(err))
		w.finishJob(ctx, job, crawler.JobStatusFailed, err.Error(), result.PagesVisited)
		return
	}

	if err := w.saveContacts(ctx, result); err != nil {
		w.logger.Warn("save contact rows failed", zap.String("job_id", task.JobID), zap.Error(err))
	}
	w.retainPages(ctx, task, capture.pages())

	metrics.ObserveContacts("email", len(result.Emails))
	metrics.ObserveContacts("phone", len(result.Phones))

	w.publishCompleted(ctx, task.JobID, result)
	w.finishJob(ctx, job, crawler.JobStatusSuccess, "", result.PagesVisited)
}

func (w *Worker) finishJob(ctx context.Context, job crawler.Job, status crawler.JobStatus, errText string, pagesCrawled int) {
	job.Status = status
	job.ErrorText = errText
	job.PagesCrawled = pagesCrawled
	if err := w.store.UpdateCrawlJob(ctx, job); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	w.logger.Info("crawl job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("pages_crawled", pagesCrawled))
}

func (w *Worker) saveContacts(ctx context.Context, result crawler.Result) error {
	rows := make([]store.ContactRow, 0, len(result.Emails)+len(result.Phones))
	for _, c := range result.Emails {
		rows = append(rows, store.ContactRow{
			BusinessID: result.BusinessID,
			DatasetID:  result.DatasetID,
			Kind:       "email",
			Value:      c.Value,
			SourceURL:  c.SourceURL,
		})
	}
	for _, c := range result.Phones {
		rows = append(rows, store.ContactRow{
			BusinessID: result.BusinessID,
			DatasetID:  result.DatasetID,
			Kind:       "phone",
			Value:      c.Value,
			SourceURL:  c.SourceURL,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return w.store.SaveContacts(ctx, rows)
}

func (w *Worker) retainPages(ctx context.Context, task queue.Task, pages []crawler.Page) {
	for _, page := range pages {
		uri := ""
		if w.cfg.RetainPages && page.StatusCode >= 200 && page.StatusCode < 300 &&
			strings.Contains(page.ContentType, "text/html") {
			path := blob.PagePath(task.DatasetID, task.JobID, page.URL)
			stored, err := w.blobs.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(page.Body))
			if err != nil {
				w.logger.Warn("retain page body failed",
					zap.String("job_id", task.JobID), zap.String("url", page.URL), zap.Error(err))
			} else {
				uri = stored
			}
		}
		if err := w.store.SavePage(ctx, store.PageRow{
			JobID:       task.JobID,
			DatasetID:   task.DatasetID,
			URL:         page.URL,
			StatusCode:  page.StatusCode,
			ContentType: page.ContentType,
			FetchedAt:   w.clock.Now(),
			BlobURI:     uri,
		}); err != nil {
			w.logger.Warn("save page row failed",
				zap.String("job_id", task.JobID), zap.String("url", page.URL), zap.Error(err))
		}
	}
}

func (w *Worker) publishCompleted(ctx context.Context, jobID string, result crawler.Result) {
	if w.cfg.Topic == "" {
		return
	}
	event := publisher.CrawlCompletedEvent{
		JobID:        jobID,
		BusinessID:   result.BusinessID,
		DatasetID:    result.DatasetID,
		CrawlStatus:  string(result.CrawlStatus),
		PagesVisited: result.PagesVisited,
		EmailsFound:  len(result.Emails),
		PhonesFound:  len(result.Phones),
		FinishedAt:   result.FinishedAt,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Warn("publish crawl event failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// capturingFetcher tees fetched pages so the worker can retain bodies after
// the crawl finishes. One instance lives for exactly one task.
type capturingFetcher struct {
	base crawler.Fetcher
	mu   sync.Mutex
	seen []crawler.Page
}

func (c *capturingFetcher) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	page, err := c.base.Fetch(ctx, url)
	if err != nil {
		return page, err
	}
	c.mu.Lock()
	c.seen = append(c.seen, page)
	c.mu.Unlock()
	return page, nil
}

func (c *capturingFetcher) pages() []crawler.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]crawler.Page, len(c.seen))
	copy(out, c.seen)
	return out
}
