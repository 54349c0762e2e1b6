// Package api exposes the HTTP interface for the contact crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leadharvest/leadharvest/internal/config"
	"github.com/leadharvest/leadharvest/internal/crawler"
	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/ids"
	"github.com/leadharvest/leadharvest/internal/metrics"
	"github.com/leadharvest/leadharvest/internal/plan"
	"github.com/leadharvest/leadharvest/internal/queue"
	"github.com/leadharvest/leadharvest/internal/store"

	"go.uber.org/zap"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// Server wires HTTP handlers to the store resolver, crawl queue, and
// dataset resolver.
type Server struct {
	router   chi.Router
	store    store.Store
	tasks    *queue.Queue
	datasets *discovery.Resolver
	idGen    *ids.Generator
	clock    Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	st store.Store,
	tasks *queue.Queue,
	datasets *discovery.Resolver,
	idGen *ids.Generator,
	clock Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	s := &Server{
		store:    st,
		tasks:    tasks,
		datasets: datasets,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.ServerTimeout()))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/datasets/{dataset_id}", func(r chi.Router) {
			r.Get("/", s.getDataset)
			r.Post("/crawl", s.triggerCrawl)
			r.Get("/export", s.exportDataset)
		})
		r.Get("/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	Plan       string `json:"plan"`
	MaxDepth   *int   `json:"max_depth"`
	PagesLimit *int   `json:"pages_limit"`
}

type crawlResponse struct {
	JobIDs      []string `json:"job_ids"`
	JobsCreated int      `json:"jobs_created"`
	MaxDepth    int      `json:"max_depth"`
	PagesLimit  int      `json:"pages_limit"`
	Gated       bool     `json:"gated"`
	GateReason  string   `json:"gate_reason,omitempty"`
	UpgradeHint string   `json:"upgrade_hint,omitempty"`
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "dataset_id")

	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	tier := plan.Tier(req.Plan)
	depth := s.cfg.Crawler.DefaultMaxDepth
	if req.MaxDepth != nil {
		depth = *req.MaxDepth
	}
	gate := plan.ApplyCrawlGate(tier, depth, req.PagesLimit)

	ds, err := s.store.GetDataset(r.Context(), datasetID)
	if err != nil {
		writeStoreError(w, err, "dataset not found")
		return
	}
	if !hasCrawlableBusinesses(ds) {
		writeError(w, http.StatusUnprocessableEntity, "dataset has no businesses with a website to crawl")
		return
	}

	jobIDs, err := s.createJobs(r.Context(), ds, gate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := crawlResponse{
		JobIDs:      jobIDs,
		JobsCreated: len(jobIDs),
		MaxDepth:    gate.MaxDepth,
		PagesLimit:  gate.PagesLimit,
		Gated:       gate.Gated,
	}
	if gate.Gated {
		resp.GateReason = fmt.Sprintf(
			"requested depth %d / pages %d reduced to plan allowance depth %d / pages %d",
			gate.OriginalDepth, gate.OriginalPagesLimit, gate.MaxDepth, gate.PagesLimit)
		resp.UpgradeHint = plan.UpgradeHint(tier)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func hasCrawlableBusinesses(ds store.Dataset) bool {
	for _, b := range ds.Businesses {
		if b.WebsiteURL != "" {
			return true
		}
	}
	return false
}

func (s *Server) createJobs(ctx context.Context, ds store.Dataset, gate plan.CrawlGate) ([]string, error) {
	jobIDs := make([]string, 0, len(ds.Businesses))
	for _, b := range ds.Businesses {
		if b.WebsiteURL == "" {
			continue
		}
		jobID, err := s.idGen.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate job id: %w", err)
		}
		job := crawler.Job{
			ID:         jobID,
			BusinessID: b.ID,
			DatasetID:  ds.ID,
			WebsiteURL: b.WebsiteURL,
			Status:     crawler.JobStatusQueued,
			PagesLimit: gate.PagesLimit,
			CreatedAt:  s.clock.Now(),
		}
		if err := s.store.CreateCrawlJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}

		queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = s.tasks.Enqueue(queueCtx, queue.Task{
			JobID:      jobID,
			BusinessID: b.ID,
			DatasetID:  ds.ID,
			WebsiteURL: b.WebsiteURL,
			MaxDepth:   gate.MaxDepth,
			PagesLimit: gate.PagesLimit,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("enqueue job: %w", err)
		}
		jobIDs = append(jobIDs, jobID)
	}
	return jobIDs, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetCrawlJob(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "dataset_id")
	userID := r.URL.Query().Get("user_id")
	tier := plan.Tier(r.URL.Query().Get("plan"))

	res, err := s.datasets.Resolve(r.Context(), userID, datasetID, tier)
	if err != nil {
		writeStoreError(w, err, "dataset not found")
		return
	}

	payload := map[string]any{
		"dataset":          res.Dataset,
		"from_snapshot":    res.FromSnapshot,
		"queued_discovery": res.QueuedDiscovery,
	}
	if res.Snapshot != nil {
		payload["snapshot_created_at"] = res.Snapshot.CreatedAt
		payload["snapshot_expires_at"] = res.Snapshot.ExpiresAt
	}
	writeJSON(w, http.StatusOK, payload)
}

type exportResponse struct {
	Watermark string            `json:"watermark"`
	Gated     bool              `json:"gated"`
	Count     int               `json:"count"`
	Rows      []store.ExportRow `json:"rows"`
}

func (s *Server) exportDataset(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "dataset_id")
	tier := plan.Tier(r.URL.Query().Get("plan"))

	requested := plan.LimitsFor(tier).ExportMaxRows
	if raw := r.URL.Query().Get("rows"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "rows must be an integer")
			return
		}
		requested = n
	}
	gate := plan.ApplyExportGate(tier, requested)

	rows, err := s.store.GetExportRows(r.Context(), datasetID, gate.Rows)
	if err != nil {
		writeStoreError(w, err, "dataset not found")
		return
	}

	writeJSON(w, http.StatusOK, exportResponse{
		Watermark: gate.Watermark,
		Gated:     gate.Gated,
		Count:     len(rows),
		Rows:      rows,
	})
}

func writeStoreError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "no storage backend available")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
