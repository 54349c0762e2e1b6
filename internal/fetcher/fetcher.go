// Package fetcher implements crawler.Fetcher using gocolly.
package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/leadharvest/leadharvest/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher fetches single pages with a Colly collector. Each Fetch clones the
// base collector so per-call hooks never leak between requests.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)

	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET. HTTP error statuses are not fetch
// failures: the page comes back with its status code so the caller can
// record it. A non-nil error means the page could not be retrieved at all.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	var (
		page     crawler.Page
		gotPage  bool
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()

	collector.OnResponse(func(r *colly.Response) {
		page = crawler.Page{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
		gotPage = true
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// The server answered; surface the status instead of failing.
			page = crawler.Page{
				URL:         r.Request.URL.String(),
				StatusCode:  r.StatusCode,
				ContentType: r.Headers.Get("Content-Type"),
				Body:        append([]byte(nil), r.Body...),
				Duration:    time.Since(start),
			}
			gotPage = true
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return crawler.Page{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if gotPage {
			return page, nil
		}
		if fetchErr != nil {
			return crawler.Page{}, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		if err != nil {
			return crawler.Page{}, fmt.Errorf("visit %s: %w", url, err)
		}
		return crawler.Page{}, fmt.Errorf("fetch %s: no response", url)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
