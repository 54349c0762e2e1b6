package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/crawler"
	"github.com/leadharvest/leadharvest/internal/ids"
	"github.com/leadharvest/leadharvest/internal/plan"
	"github.com/leadharvest/leadharvest/internal/queue"
	"github.com/leadharvest/leadharvest/internal/store"
)

// Runner executes one discovery request.
type Runner interface {
	Discover(ctx context.Context, req Request) error
}

// Worker drains the discovery queue one request at a time.
type Worker struct {
	queue  *Queue
	runner Runner
	logger *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(q *Queue, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: q, runner: runner, logger: logger}
}

// Run blocks, consuming requests until the context finishes. Failures are
// logged and never stop the loop.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("discovery pop failed", zap.Error(err))
			continue
		}
		if err := w.runner.Discover(ctx, req); err != nil {
			w.logger.Error("discovery run failed",
				zap.String("dataset_id", req.DatasetID), zap.Error(err))
		}
	}
}

// RediscoverStore is the slice of the store contract rediscovery needs.
type RediscoverStore interface {
	GetDataset(ctx context.Context, datasetID string) (store.Dataset, error)
	CreateCrawlJob(ctx context.Context, job crawler.Job) error
	CreateDatasetSnapshot(ctx context.Context, snap store.DatasetSnapshot) error
}

// Rediscoverer re-crawls every business in a dataset and refreshes its
// snapshot.
type Rediscoverer struct {
	store  RediscoverStore
	jobs   *queue.Queue
	gen    *ids.Generator
	clock  Clock
	logger *zap.Logger
}

// NewRediscoverer constructs a Rediscoverer.
func NewRediscoverer(st RediscoverStore, jobs *queue.Queue, gen *ids.Generator, clock Clock, logger *zap.Logger) *Rediscoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rediscoverer{store: st, jobs: jobs, gen: gen, clock: clock, logger: logger}
}

// Discover creates one crawl job per business-with-website at the request's
// plan limits, then writes a fresh snapshot of the dataset.
func (r *Rediscoverer) Discover(ctx context.Context, req Request) error {
	ds, err := r.store.GetDataset(ctx, req.DatasetID)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	limits := plan.LimitsFor(req.Tier)
	now := r.clock.Now()

	var created int
	for _, b := range ds.Businesses {
		if b.WebsiteURL == "" {
			continue
		}
		jobID, err := r.gen.NewID()
		if err != nil {
			return fmt.Errorf("generate job id: %w", err)
		}
		job := crawler.Job{
			ID:         jobID,
			BusinessID: b.ID,
			DatasetID:  ds.ID,
			WebsiteURL: b.WebsiteURL,
			Status:     crawler.JobStatusQueued,
			PagesLimit: limits.CrawlPagesLimit,
			CreatedAt:  now,
		}
		if err := r.store.CreateCrawlJob(ctx, job); err != nil {
			return fmt.Errorf("create crawl job: %w", err)
		}
		if err := r.jobs.Enqueue(ctx, queue.Task{
			JobID:      jobID,
			BusinessID: b.ID,
			DatasetID:  ds.ID,
			WebsiteURL: b.WebsiteURL,
			MaxDepth:   limits.CrawlMaxDepth,
			PagesLimit: limits.CrawlPagesLimit,
		}); err != nil {
			return fmt.Errorf("enqueue crawl task: %w", err)
		}
		created++
	}

	data, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	snapID, err := r.gen.NewID()
	if err != nil {
		return fmt.Errorf("generate snapshot id: %w", err)
	}
	snap := store.DatasetSnapshot{
		ID:        snapID,
		DatasetID: ds.ID,
		UserID:    ds.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(store.SnapshotTTL),
		Data:      data,
	}
	if err := r.store.CreateDatasetSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	r.logger.Info("dataset rediscovery queued",
		zap.String("dataset_id", ds.ID),
		zap.Int("jobs_created", created))
	return nil
}
