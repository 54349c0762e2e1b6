package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/crawler"
	"github.com/leadharvest/leadharvest/internal/metrics"
)

// Resolver picks between the primary and fallback backends based on cached
// health checks. The cached choice is reused until its TTL lapses; a failed
// re-probe clears the cache and resolution restarts from the primary.
//
// Resolver itself implements Store, so callers are oblivious to failover.
// There is exactly one Resolver per process, created at startup.
type Resolver struct {
	primary   Store
	fallback  Store
	healthTTL time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	cached   Store
	cachedAt time.Time
}

// NewResolver constructs a Resolver. primary may be nil when no primary
// backend is configured; fallback must not be nil.
func NewResolver(primary, fallback Store, healthTTL time.Duration, logger *zap.Logger) *Resolver {
	if healthTTL <= 0 {
		healthTTL = 30 * time.Second
	}
	return &Resolver{
		primary:   primary,
		fallback:  fallback,
		healthTTL: healthTTL,
		logger:    logger,
	}
}

// Resolve returns the backend to use for the next operation. A health check
// is only paid when the cache is absent or stale.
func (r *Resolver) Resolve(ctx context.Context) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		if time.Since(r.cachedAt) < r.healthTTL {
			return r.cached, nil
		}
		if err := r.cached.HealthCheck(ctx); err == nil {
			r.cachedAt = time.Now()
			return r.cached, nil
		}
		r.logger.Warn("cached store failed health re-probe, re-resolving")
		r.cached = nil
	}

	if r.primary != nil {
		if err := r.primary.HealthCheck(ctx); err == nil {
			r.cached = r.primary
			r.cachedAt = time.Now()
			r.logger.Debug("storage resolved to primary")
			return r.cached, nil
		}
		r.logger.Warn("primary store unhealthy, probing fallback")
	}

	if r.fallback != nil {
		if err := r.fallback.HealthCheck(ctx); err == nil {
			r.cached = r.fallback
			r.cachedAt = time.Now()
			metrics.ObserveFailover()
			r.logger.Warn("storage resolved to local fallback")
			return r.cached, nil
		}
	}

	return nil, ErrUnavailable
}

// Invalidate drops the cached selection so the next call re-resolves from
// the primary.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}

// HealthCheck reports whether any backend is reachable.
func (r *Resolver) HealthCheck(ctx context.Context) error {
	_, err := r.Resolve(ctx)
	return err
}

// GetDataset delegates to the resolved backend.
func (r *Resolver) GetDataset(ctx context.Context, datasetID string) (Dataset, error) {
	s, err := r.Resolve(ctx)
	if err != nil {
		return Dataset{}, err
	}
	return s.GetDataset(ctx, datasetID)
}

// GetLatestDataset delegates to the resolved backend.
func (r *Resolver) GetLatestDataset(ctx context.Context, userID string) (Dataset, error) {
	s, err := r.Resolve(ctx)
	if err != nil {
		return Dataset{}, err
	}
	return s.GetLatestDataset(ctx, userID)
}

// CreateDatasetSnapshot delegates to the resolved backend.
func (r *Resolver) CreateDatasetSnapshot(ctx context.Context, snap DatasetSnapshot) error {
	s, err := r.Resolve(ctx)
	if err != nil {
		return err
	}
	return s.CreateDatasetSnapshot(ctx, snap)
}

// GetDatasetSnapshot delegates to the resolved backend.
func (r *Resolver) GetDatasetSnapshot(ctx context.Context, datasetID string) (DatasetSnapshot, error) {
	s, err := r.Resolve(ctx)
	if err != nil {
		return DatasetSnapshot{}, err
	}
	return s.GetDatasetSnapshot(ctx, datasetID)
}

// CreateCrawlJob delegates to the resolved backend.
func (r *Resolver) CreateCrawlJob(ctx context.Context, job crawler.Job) error {
	s, err := r.Resolve(ctx)
	if err != nil {
		return err
	}
	return s.CreateCrawlJob(ctx, job)
}

// UpdateCrawlJob delegates to the resolved backend.
func (r *Resolver) UpdateCrawlJob(ctx context.Context, job crawler.Job) error {
	s, err := r.Resolve(ctx)
	if err != nil {
		return err
	}
	return s.UpdateCrawlJob(ctx, job)
}

// GetCrawlJob delegates to the resolved backend.
func (r *Resolver) GetCrawlJob(ctx context.Context, jobID string) (crawler.Job, error) {
	s, err := r.Resolve(ctx)
	if err != nil {
		return crawler.Job{}, err
	}
	return s.GetCrawlJob(ctx, jobID)
}

// SavePage delegates to the resolved backend.
func (r *Resolver) SavePage(ctx context.Context, page PageRow) error {
	s, err := r.Resolve(ctx)
	if err != nil {
		return err
	}
	return s.SavePage(ctx, page)
}

// SaveContacts delegates to the resolved backend.
func (r *Resolver) SaveContacts(ctx context.Context, rows []ContactRow) error {
	s, err := r.Resolve(ctx)
	if err != nil {
		return err
	}
	return s.SaveContacts(ctx, rows)
}

// UpsertCrawlResult delegates to the resolved backend.
func (r *Resolver) UpsertCrawlResult(ctx context.Context, result crawler.Result) error {
	s, err := r.Resolve(ctx)
	if err != nil {
		return err
	}
	return s.UpsertCrawlResult(ctx, result)
}

// GetCrawlResult delegates to the resolved backend.
func (r *Resolver) GetCrawlResult(ctx context.Context, businessID, datasetID string) (StoredResult, error) {
	s, err := r.Resolve(ctx)
	if err != nil {
		return StoredResult{}, err
	}
	return s.GetCrawlResult(ctx, businessID, datasetID)
}

// GetExportRows delegates to the resolved backend.
func (r *Resolver) GetExportRows(ctx context.Context, datasetID string, limit int) ([]ExportRow, error) {
	s, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetExportRows(ctx, datasetID, limit)
}

// Close closes both backends.
func (r *Resolver) Close() {
	if r.primary != nil {
		r.primary.Close()
	}
	if r.fallback != nil {
		r.fallback.Close()
	}
}
