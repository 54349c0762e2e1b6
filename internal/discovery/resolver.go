package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/plan"
	"github.com/leadharvest/leadharvest/internal/store"
)

// Clock abstracts time for snapshot freshness checks.
type Clock interface {
	Now() time.Time
}

// SnapshotStore is the slice of the store contract the resolver needs.
type SnapshotStore interface {
	GetDataset(ctx context.Context, datasetID string) (store.Dataset, error)
	GetLatestDataset(ctx context.Context, userID string) (store.Dataset, error)
	GetDatasetSnapshot(ctx context.Context, datasetID string) (store.DatasetSnapshot, error)
}

// Resolution is the outcome of resolving a dataset for a user.
type Resolution struct {
	Dataset         store.Dataset
	Snapshot        *store.DatasetSnapshot
	FromSnapshot    bool
	QueuedDiscovery bool
}

// Resolver answers dataset lookups from fresh snapshots when possible and
// queues re-discovery otherwise. The caller never blocks on discovery.
type Resolver struct {
	store  SnapshotStore
	queue  *Queue
	clock  Clock
	logger *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(st SnapshotStore, q *Queue, clock Clock, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: st, queue: q, clock: clock, logger: logger}
}

// Resolve loads the dataset for userID. An empty datasetID means the user's
// newest dataset. A snapshot younger than its TTL is returned verbatim;
// otherwise a re-discovery request is queued at the caller's plan tier and
// the live dataset returned.
func (r *Resolver) Resolve(ctx context.Context, userID, datasetID string, tier plan.Tier) (Resolution, error) {
	var (
		ds  store.Dataset
		err error
	)
	if datasetID == "" {
		ds, err = r.store.GetLatestDataset(ctx, userID)
	} else {
		ds, err = r.store.GetDataset(ctx, datasetID)
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve dataset: %w", err)
	}

	now := r.clock.Now()
	snap, err := r.store.GetDatasetSnapshot(ctx, ds.ID)
	switch {
	case err == nil && snap.Fresh(now):
		return Resolution{Dataset: ds, Snapshot: &snap, FromSnapshot: true}, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return Resolution{}, fmt.Errorf("load snapshot: %w", err)
	}

	queued := r.queue.Push(Request{
		UserID:      userID,
		DatasetID:   ds.ID,
		Tier:        tier,
		RequestedAt: now,
	})
	if !queued {
		r.logger.Warn("discovery queue full, request not accepted",
			zap.String("dataset_id", ds.ID))
	}
	return Resolution{Dataset: ds, QueuedDiscovery: queued}, nil
}
