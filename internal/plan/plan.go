// Package plan defines subscription tiers and the gating rules that cap
// crawl and export parameters to what a tier allows.
package plan

import "fmt"

// Tier identifies a subscription plan.
type Tier string

// Known plan tiers.
const (
	TierDemo    Tier = "demo"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
)

// Limits is the immutable per-tier resource table.
type Limits struct {
	ExportMaxRows   int
	CrawlMaxDepth   int
	CrawlPagesLimit int
	CrawlsPerMonth  int
}

var limitsByTier = map[Tier]Limits{
	TierDemo:    {ExportMaxRows: 50, CrawlMaxDepth: 1, CrawlPagesLimit: 5, CrawlsPerMonth: 1},
	TierStarter: {ExportMaxRows: 1000, CrawlMaxDepth: 2, CrawlPagesLimit: 15, CrawlsPerMonth: 4},
	TierPro:     {ExportMaxRows: 25000, CrawlMaxDepth: 3, CrawlPagesLimit: 40, CrawlsPerMonth: 30},
}

// LimitsFor returns the limits table for a tier. Unknown tiers fall back to
// demo limits so a bad plan string can never widen access.
func LimitsFor(tier Tier) Limits {
	if l, ok := limitsByTier[tier]; ok {
		return l
	}
	return limitsByTier[TierDemo]
}

// CrawlGate is the outcome of gating a crawl request against a tier.
type CrawlGate struct {
	MaxDepth           int
	PagesLimit         int
	Gated              bool
	OriginalDepth      int
	OriginalPagesLimit int
}

// ApplyCrawlGate caps the requested depth and page budget to the tier's
// limits. pagesLimit may be nil, meaning "use the plan default". The function
// is pure; the crawl engine only ever consumes the gated values.
func ApplyCrawlGate(tier Tier, requestedDepth int, requestedPagesLimit *int) CrawlGate {
	limits := LimitsFor(tier)

	pages := limits.CrawlPagesLimit
	if requestedPagesLimit != nil {
		pages = *requestedPagesLimit
	}

	gate := CrawlGate{
		MaxDepth:           requestedDepth,
		PagesLimit:         pages,
		OriginalDepth:      requestedDepth,
		OriginalPagesLimit: pages,
	}
	if gate.MaxDepth > limits.CrawlMaxDepth {
		gate.MaxDepth = limits.CrawlMaxDepth
		gate.Gated = true
	}
	if gate.PagesLimit > limits.CrawlPagesLimit {
		gate.PagesLimit = limits.CrawlPagesLimit
		gate.Gated = true
	}
	if gate.MaxDepth < 0 {
		gate.MaxDepth = 0
	}
	if gate.PagesLimit < 1 {
		gate.PagesLimit = 1
	}
	return gate
}

// ExportGate caps export row counts and selects the watermark stamped on the
// rendered file.
type ExportGate struct {
	Rows      int
	Gated     bool
	Watermark string
}

// ApplyExportGate caps an export request to the tier's row allowance.
func ApplyExportGate(tier Tier, requestedRows int) ExportGate {
	limits := LimitsFor(tier)

	gate := ExportGate{Rows: requestedRows, Watermark: watermarkFor(tier)}
	if gate.Rows > limits.ExportMaxRows {
		gate.Rows = limits.ExportMaxRows
		gate.Gated = true
	}
	if gate.Rows < 0 {
		gate.Rows = 0
	}
	return gate
}

func watermarkFor(tier Tier) string {
	switch tier {
	case TierStarter:
		return "STARTER"
	case TierPro:
		return "PRO"
	default:
		return fmt.Sprintf("DEMO (max %d leads)", limitsByTier[TierDemo].ExportMaxRows)
	}
}

// UpgradeHint returns the user-facing nudge attached to gated responses.
func UpgradeHint(tier Tier) string {
	switch tier {
	case TierDemo:
		return "Upgrade to Starter for deeper crawls and larger exports."
	case TierStarter:
		return "Upgrade to Pro for deeper crawls and larger exports."
	default:
		return ""
	}
}
