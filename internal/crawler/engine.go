package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/extract"
	"github.com/leadharvest/leadharvest/internal/metrics"
	"github.com/leadharvest/leadharvest/internal/urlutil"
)

// EngineConfig carries the safety caps. These are process-wide hard limits
// that override any caller-requested values, independent of plan tier.
type EngineConfig struct {
	HardMaxPages int
	HardTimeout  time.Duration
}

// Engine runs bounded breadth-first crawls of single business websites.
// At most one crawl is in flight per process; the semaphore enforces it even
// if multiple callers race.
type Engine struct {
	fetcher  Fetcher
	logger   *zap.Logger
	cfg      EngineConfig
	inflight chan struct{}
}

// NewEngine constructs an Engine.
func NewEngine(fetcher Fetcher, logger *zap.Logger, cfg EngineConfig) *Engine {
	if cfg.HardMaxPages <= 0 {
		cfg.HardMaxPages = 50
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = 2 * time.Minute
	}
	return &Engine{
		fetcher:  fetcher,
		logger:   logger,
		cfg:      cfg,
		inflight: make(chan struct{}, 1),
	}
}

type frontierEntry struct {
	url   string
	depth int
}

// visitedSet tracks canonical URLs already fetched or queued for one crawl.
// It is owned exclusively by a single Crawl invocation.
type visitedSet map[string]struct{}

func (v visitedSet) markIfNew(url string) bool {
	if _, seen := v[url]; seen {
		return false
	}
	v[url] = struct{}{}
	return true
}

// Crawl performs a BFS traversal of websiteURL bounded by maxDepth hops and
// pagesLimit fetched pages. Per-page failures are recorded in the result and
// never abort the traversal; the hard wall-clock timeout terminates an
// in-progress crawl and yields a partial result.
func (e *Engine) Crawl(
	ctx context.Context,
	businessID, datasetID, websiteURL string,
	maxDepth, pagesLimit int,
) (Result, error) {
	if pagesLimit > e.cfg.HardMaxPages {
		pagesLimit = e.cfg.HardMaxPages
	}
	if pagesLimit < 1 {
		pagesLimit = 1
	}
	if maxDepth < 0 {
		maxDepth = 0
	}

	select {
	case e.inflight <- struct{}{}:
		defer func() { <-e.inflight }()
	case <-ctx.Done():
		return Result{}, fmt.Errorf("crawl slot: %w", ctx.Err())
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.HardTimeout)
	defer cancel()

	result := Result{
		BusinessID:  businessID,
		DatasetID:   datasetID,
		WebsiteURL:  websiteURL,
		StartedAt:   time.Now().UTC(),
		CrawlStatus: StatusPartial,
	}

	seeds, err := urlutil.SeedURLs(websiteURL)
	if err != nil {
		return Result{}, fmt.Errorf("seed urls: %w", err)
	}
	homepage := seeds[0]

	// The homepage is depth 0; every other seed counts as one hop from it,
	// the same depth it would have if discovered through a homepage link.
	visited := make(visitedSet, pagesLimit)
	frontier := make([]frontierEntry, 0, len(seeds))
	for i, seed := range seeds {
		depth := 0
		if i > 0 {
			depth = 1
		}
		if depth > maxDepth {
			continue
		}
		if visited.markIfNew(seed) {
			frontier = append(frontier, frontierEntry{url: seed, depth: depth})
		}
	}

	var (
		homepageOK bool
		budgetHit  bool
		timedOut   bool
	)

	for len(frontier) > 0 {
		entry := frontier[0]
		frontier = frontier[1:]

		if result.PagesVisited >= pagesLimit {
			budgetHit = true
			break
		}
		if ctx.Err() != nil {
			timedOut = true
			break
		}

		page, fetchErr := e.fetcher.Fetch(ctx, entry.url)

		if fetchErr != nil {
			// Only the engine's own deadline stops the crawl. A slow page's
			// client timeout is a page-level failure like any other.
			if ctx.Err() != nil {
				timedOut = true
				break
			}
			result.Errors = append(result.Errors, PageError{URL: entry.url, Message: fetchErr.Error()})
			metrics.ObservePage("error")
			e.logger.Debug("page fetch failed",
				zap.String("url", entry.url),
				zap.Error(fetchErr),
			)
			continue
		}
		if page.StatusCode < 200 || page.StatusCode >= 300 {
			result.Errors = append(result.Errors, PageError{
				URL:     entry.url,
				Message: fmt.Sprintf("status %d", page.StatusCode),
			})
			metrics.ObservePage("error")
			continue
		}
		if !isHTML(page.ContentType) {
			result.Errors = append(result.Errors, PageError{
				URL:     entry.url,
				Message: fmt.Sprintf("non-html content-type %q", page.ContentType),
			})
			metrics.ObservePage("skipped")
			continue
		}

		// Failed probes of speculative seed paths do not consume budget;
		// only pages that actually yielded HTML count as visited.
		result.PagesVisited++
		if entry.url == homepage {
			homepageOK = true
		}
		metrics.ObservePage("ok")

		extraction, err := extract.Page(entry.url, page.Body)
		if err != nil {
			result.Errors = append(result.Errors, PageError{URL: entry.url, Message: err.Error()})
			continue
		}
		e.merge(&result, entry.url, extraction)

		if entry.depth >= maxDepth {
			continue
		}
		for _, link := range extraction.Links {
			next, err := urlutil.Resolve(entry.url, link.URL)
			if err != nil {
				continue
			}
			if !urlutil.SameDomain(websiteURL, next) {
				continue
			}
			if u, err := url.Parse(next); err != nil || urlutil.ShouldSkipPath(u.Path) {
				continue
			}
			if visited.markIfNew(next) {
				frontier = append(frontier, frontierEntry{url: next, depth: entry.depth + 1})
			}
		}
	}

	result.FinishedAt = time.Now().UTC()
	result.CrawlStatus = deriveStatus(homepageOK, budgetHit, timedOut)

	metrics.ObserveContacts("email", len(result.Emails))
	metrics.ObserveContacts("phone", len(result.Phones))

	e.logger.Info("crawl finished",
		zap.String("business_id", businessID),
		zap.String("dataset_id", datasetID),
		zap.String("website", websiteURL),
		zap.Int("pages_visited", result.PagesVisited),
		zap.Int("emails", len(result.Emails)),
		zap.Int("phones", len(result.Phones)),
		zap.String("status", string(result.CrawlStatus)),
	)
	return result, nil
}

// deriveStatus implements the status rule: completed requires that the
// frontier emptied naturally and the homepage fetch succeeded. Budget
// cutoffs and timeouts always yield partial; non-fatal page errors do not
// demote an otherwise complete crawl.
func deriveStatus(homepageOK, budgetHit, timedOut bool) CrawlStatus {
	if homepageOK && !budgetHit && !timedOut {
		return StatusCompleted
	}
	return StatusPartial
}

func (e *Engine) merge(result *Result, pageURL string, extraction extract.Extraction) {
	result.Emails = append(result.Emails, extraction.Emails...)
	result.Phones = append(result.Phones, extraction.Phones...)

	if extraction.IsContactPage && !containsString(result.ContactPages, pageURL) {
		result.ContactPages = append(result.ContactPages, pageURL)
	}

	for platform, profile := range extraction.Social {
		switch platform {
		case "facebook":
			if result.Social.Facebook == "" {
				result.Social.Facebook = profile
			}
		case "instagram":
			if result.Social.Instagram == "" {
				result.Social.Instagram = profile
			}
		case "linkedin":
			if result.Social.LinkedIn == "" {
				result.Social.LinkedIn = profile
			}
		case "twitter":
			if result.Social.Twitter == "" {
				result.Social.Twitter = profile
			}
		case "youtube":
			if result.Social.YouTube == "" {
				result.Social.YouTube = profile
			}
		}
	}
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
