package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/crawler"
)

// stubStore implements Store with switchable health and call counting.
type stubStore struct {
	name         string
	healthy      atomic.Bool
	healthProbes atomic.Int32
	upserts      atomic.Int32
}

func newStubStore(name string, healthy bool) *stubStore {
	s := &stubStore{name: name}
	s.healthy.Store(healthy)
	return s
}

func (s *stubStore) HealthCheck(context.Context) error {
	s.healthProbes.Add(1)
	if !s.healthy.Load() {
		return errors.New("unhealthy")
	}
	return nil
}

func (s *stubStore) GetDataset(context.Context, string) (Dataset, error) {
	return Dataset{ID: "ds-1", UserID: "u-1", Name: s.name}, nil
}

func (s *stubStore) GetLatestDataset(context.Context, string) (Dataset, error) {
	return Dataset{ID: "ds-1", UserID: "u-1", Name: s.name}, nil
}

func (s *stubStore) CreateDatasetSnapshot(context.Context, DatasetSnapshot) error { return nil }

func (s *stubStore) GetDatasetSnapshot(context.Context, string) (DatasetSnapshot, error) {
	return DatasetSnapshot{}, ErrNotFound
}

func (s *stubStore) CreateCrawlJob(context.Context, crawler.Job) error { return nil }
func (s *stubStore) UpdateCrawlJob(context.Context, crawler.Job) error { return nil }

func (s *stubStore) GetCrawlJob(context.Context, string) (crawler.Job, error) {
	return crawler.Job{}, ErrNotFound
}

func (s *stubStore) SavePage(context.Context, PageRow) error        { return nil }
func (s *stubStore) SaveContacts(context.Context, []ContactRow) error { return nil }

func (s *stubStore) UpsertCrawlResult(context.Context, crawler.Result) error {
	s.upserts.Add(1)
	return nil
}

func (s *stubStore) GetCrawlResult(context.Context, string, string) (StoredResult, error) {
	return StoredResult{}, ErrNotFound
}

func (s *stubStore) GetExportRows(context.Context, string, int) ([]ExportRow, error) {
	return nil, nil
}

func (s *stubStore) Close() {}

func TestResolverPrefersHealthyPrimary(t *testing.T) {
	t.Parallel()

	primary := newStubStore("primary", true)
	fallback := newStubStore("fallback", true)
	r := NewResolver(primary, fallback, time.Minute, zap.NewNop())

	ds, err := r.GetLatestDataset(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "primary", ds.Name)
	assert.Equal(t, int32(0), fallback.healthProbes.Load(), "fallback must not be probed")
}

func TestResolverCachesHealthChecks(t *testing.T) {
	t.Parallel()

	primary := newStubStore("primary", true)
	r := NewResolver(primary, newStubStore("fallback", true), time.Minute, zap.NewNop())

	for i := 0; i < 5; i++ {
		_, err := r.GetLatestDataset(context.Background(), "u-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), primary.healthProbes.Load(),
		"health is probed once while the cache is fresh")
}

func TestResolverFailsOverToFallback(t *testing.T) {
	t.Parallel()

	primary := newStubStore("primary", false)
	fallback := newStubStore("fallback", true)
	r := NewResolver(primary, fallback, time.Minute, zap.NewNop())

	ds, err := r.GetLatestDataset(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "fallback", ds.Name)

	require.NoError(t, r.UpsertCrawlResult(context.Background(), crawler.Result{
		BusinessID: "b-1", DatasetID: "ds-1",
	}))
	assert.Equal(t, int32(1), fallback.upserts.Load())
	assert.Equal(t, int32(0), primary.upserts.Load())
}

func TestResolverRestartsFromPrimaryWhenCachedStoreDies(t *testing.T) {
	t.Parallel()

	primary := newStubStore("primary", false)
	fallback := newStubStore("fallback", true)
	// Nanosecond TTL forces a re-probe of the cached choice on every call.
	r := NewResolver(primary, fallback, time.Nanosecond, zap.NewNop())

	ds, err := r.GetLatestDataset(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, "fallback", ds.Name)

	// Primary recovers, then the cached fallback dies: resolution must
	// restart from the primary.
	primary.healthy.Store(true)
	fallback.healthy.Store(false)
	time.Sleep(time.Millisecond)

	ds, err = r.GetLatestDataset(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "primary", ds.Name)
}

func TestResolverBothBackendsDown(t *testing.T) {
	t.Parallel()

	r := NewResolver(newStubStore("primary", false), newStubStore("fallback", false), time.Minute, zap.NewNop())

	_, err := r.GetLatestDataset(context.Background(), "u-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResolverNilPrimaryUsesFallback(t *testing.T) {
	t.Parallel()

	fallback := newStubStore("fallback", true)
	r := NewResolver(nil, fallback, time.Minute, zap.NewNop())

	ds, err := r.GetLatestDataset(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "fallback", ds.Name)
}

func TestResolverInvalidateForcesReResolve(t *testing.T) {
	t.Parallel()

	primary := newStubStore("primary", true)
	r := NewResolver(primary, newStubStore("fallback", true), time.Minute, zap.NewNop())

	_, err := r.Resolve(context.Background())
	require.NoError(t, err)
	r.Invalidate()
	_, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), primary.healthProbes.Load())
}
