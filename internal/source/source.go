// Package source reads XML documents and their metadata from the store
// they are shredded from.
package source

import (
	"context"
	"fmt"
	"time"
)

// DefaultProvider is the provider of documents that do not name one.
const DefaultProvider = "unknown_provider"

// DocumentInfo describes one document available in the source.
type DocumentInfo struct {
	ID             string
	Provider       string
	SubjectID      *int64
	GenerationDate *time.Time
}

// Content is the raw XML of one document.
type Content struct {
	ID       string
	Provider string
	XML      string
}

// Source is a document store.
type Source interface {
	Open(ctx context.Context) error
	DocumentMetadata(ctx context.Context) ([]DocumentInfo, error)
	// PriorityItems returns the ids of the documents of provider.
	PriorityItems(ctx context.Context, provider string) ([]string, error)
	Content(ctx context.Context, ids []string) ([]Content, error)
	Close() error
}

// UnavailableError reports a source that cannot be reached.
type UnavailableError struct {
	Location string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("source %s is not available: %v", e.Location, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
