package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadharvest/leadharvest/internal/config"
	"github.com/leadharvest/leadharvest/internal/crawler"
	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/extract"
	"github.com/leadharvest/leadharvest/internal/ids"
	"github.com/leadharvest/leadharvest/internal/plan"
	"github.com/leadharvest/leadharvest/internal/queue"
	"github.com/leadharvest/leadharvest/internal/store"
	"github.com/leadharvest/leadharvest/internal/store/localfs"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type testEnv struct {
	server *Server
	store  *localfs.Store
	tasks  *queue.Queue
	queue  *discovery.Queue
	clock  *fakeClock
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := localfs.New(t.TempDir())
	require.NoError(t, err)

	cfg := config.Config{
		Server:  config.ServerConfig{Port: 8080, TimeoutSeconds: 30},
		Crawler: config.CrawlerConfig{DefaultMaxDepth: 1},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &fakeClock{now: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
	tasks := queue.New(16)
	dq := discovery.NewQueue(16)
	resolver := discovery.NewResolver(st, dq, clock, nil)

	srv := NewServer(st, tasks, resolver, ids.NewGenerator(), clock, cfg, nil)
	return &testEnv{server: srv, store: st, tasks: tasks, queue: dq, clock: clock}
}

func seedDataset(t *testing.T, env *testEnv) store.Dataset {
	t.Helper()
	ds := store.Dataset{
		ID:        "ds-1",
		UserID:    "u-1",
		Name:      "plumbers-athens",
		CreatedAt: env.clock.Now().Add(-time.Hour),
		Businesses: []store.Business{
			{ID: "b-1", Name: "Acme", WebsiteURL: "https://acme.example"},
			{ID: "b-2", Name: "NoSite"},
			{ID: "b-3", Name: "Beta", WebsiteURL: "https://beta.example"},
		},
	}
	require.NoError(t, env.store.PutDataset(context.Background(), ds))
	return ds
}

func doRequest(t *testing.T, env *testEnv, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := doRequest(t, env, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := doRequest(t, env, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := doRequest(t, env, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerCrawlAppliesPlanGate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	seedDataset(t, env)

	depth := 3
	pages := 50
	rec := doRequest(t, env, http.MethodPost, "/v1/datasets/ds-1/crawl", crawlRequest{
		Plan:       "demo",
		MaxDepth:   &depth,
		PagesLimit: &pages,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp crawlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.JobsCreated, "businesses without a website are skipped")
	assert.Len(t, resp.JobIDs, 2)
	assert.Equal(t, 1, resp.MaxDepth)
	assert.Equal(t, 5, resp.PagesLimit)
	assert.True(t, resp.Gated)
	assert.NotEmpty(t, resp.GateReason)
	assert.Contains(t, resp.UpgradeHint, "Starter")

	assert.Equal(t, 2, env.tasks.Len())
	task, err := env.tasks.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, task.MaxDepth)
	assert.Equal(t, 5, task.PagesLimit)

	job, err := env.store.GetCrawlJob(context.Background(), resp.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusQueued, job.Status)
	assert.Equal(t, 5, job.PagesLimit)
}

func TestTriggerCrawlUngatedForPro(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	seedDataset(t, env)

	depth := 2
	rec := doRequest(t, env, http.MethodPost, "/v1/datasets/ds-1/crawl", crawlRequest{
		Plan:     "pro",
		MaxDepth: &depth,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp crawlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Gated)
	assert.Empty(t, resp.UpgradeHint)
	assert.Equal(t, 2, resp.MaxDepth)
	assert.Equal(t, 40, resp.PagesLimit, "nil pages_limit falls back to the plan default")
}

func TestTriggerCrawlRejectsBadJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/datasets/ds-1/crawl", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerCrawlUnknownDataset(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := doRequest(t, env, http.MethodPost, "/v1/datasets/ds-missing/crawl", crawlRequest{Plan: "demo"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerCrawlRejectsDatasetWithoutWebsites(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	require.NoError(t, env.store.PutDataset(context.Background(), store.Dataset{
		ID:     "ds-nosites",
		UserID: "u-1",
		Businesses: []store.Business{
			{ID: "b-1", Name: "NoSite"},
			{ID: "b-2", Name: "AlsoNoSite"},
		},
	}))

	rec := doRequest(t, env, http.MethodPost, "/v1/datasets/ds-nosites/crawl", crawlRequest{Plan: "starter"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "website")
	assert.Equal(t, 0, env.tasks.Len(), "no jobs may be queued")
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	job := crawler.Job{
		ID:         "job-1",
		BusinessID: "b-1",
		DatasetID:  "ds-1",
		WebsiteURL: "https://acme.example",
		Status:     crawler.JobStatusRunning,
		CreatedAt:  env.clock.Now(),
	}
	require.NoError(t, env.store.CreateCrawlJob(context.Background(), job))

	rec := doRequest(t, env, http.MethodGet, "/v1/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running"`)

	rec = doRequest(t, env, http.MethodGet, "/v1/jobs/job-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDatasetFreshSnapshot(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ds := seedDataset(t, env)

	created := env.clock.now.Add(-24 * time.Hour)
	require.NoError(t, env.store.CreateDatasetSnapshot(context.Background(), store.DatasetSnapshot{
		ID:        "snap-1",
		DatasetID: ds.ID,
		UserID:    ds.UserID,
		CreatedAt: created,
		ExpiresAt: created.Add(store.SnapshotTTL),
		Data:      json.RawMessage(`{}`),
	}))

	rec := doRequest(t, env, http.MethodGet, "/v1/datasets/ds-1?user_id=u-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, true, payload["from_snapshot"])
	assert.Equal(t, false, payload["queued_discovery"])
	assert.Equal(t, 0, env.queue.Len())
}

func TestGetDatasetExpiredSnapshotQueuesDiscovery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ds := seedDataset(t, env)

	created := env.clock.now.Add(-31 * 24 * time.Hour)
	require.NoError(t, env.store.CreateDatasetSnapshot(context.Background(), store.DatasetSnapshot{
		ID:        "snap-1",
		DatasetID: ds.ID,
		UserID:    ds.UserID,
		CreatedAt: created,
		ExpiresAt: created.Add(store.SnapshotTTL),
		Data:      json.RawMessage(`{}`),
	}))

	rec := doRequest(t, env, http.MethodGet, "/v1/datasets/ds-1?user_id=u-1&plan=pro", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, false, payload["from_snapshot"])
	assert.Equal(t, true, payload["queued_discovery"])
	require.Equal(t, 1, env.queue.Len())

	req, err := env.queue.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, req.Tier, "re-crawl runs at the caller's plan limits")
}

func TestExportAppliesWatermarkAndGate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	seedDataset(t, env)
	require.NoError(t, env.store.UpsertCrawlResult(context.Background(), crawler.Result{
		BusinessID:  "b-1",
		DatasetID:   "ds-1",
		CrawlStatus: crawler.StatusCompleted,
		Emails: []extract.Candidate{
			{Value: "info@acme.example", SourceURL: "https://acme.example/contact"},
		},
	}))

	rec := doRequest(t, env, http.MethodGet, "/v1/datasets/ds-1/export?plan=demo&rows=100000", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp exportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "DEMO (max 50 leads)", resp.Watermark)
	assert.True(t, resp.Gated)
	require.NotEmpty(t, resp.Rows)
	assert.Equal(t, []string{"info@acme.example"}, resp.Rows[0].Emails)
}

func TestExportRejectsBadRows(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := doRequest(t, env, http.MethodGet, "/v1/datasets/ds-1/export?plan=pro&rows=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.APIKey = "secret"
	})

	rec := doRequest(t, env, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	out := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}
