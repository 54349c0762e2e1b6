// Package blob abstracts raw page retention behind a blob store provider.
// Crawled HTML is written here so results stay reproducible after a site
// changes or goes away.
package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Provider stores one object and returns its URI.
type Provider interface {
	// PutObject uploads data under path and returns the object URI.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOp discards everything. Used when page retention is disabled.
type NoOp struct{}

// PutObject for NoOp does nothing and returns an empty URI.
func (NoOp) PutObject(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}

// PagePath builds the canonical object path for a fetched page body.
func PagePath(datasetID, jobID, pageURL string) string {
	return fmt.Sprintf("datasets/%s/jobs/%s/pages/%s.html",
		datasetID, jobID, uuid.NewSHA1(uuid.NameSpaceURL, []byte(pageURL)))
}
