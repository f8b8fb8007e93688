// Package shred turns parsed documents into staged repository changes.
// Two strategies exist: Hierarchical maps elements to related tables and
// Path flattens documents into path-keyed variables.
package shred

import (
	"context"
	"fmt"

	"github.com/beevik/etree"

	"github.com/hurou927/xmlshred/internal/repository"
	"github.com/hurou927/xmlshred/internal/schema"
)

// Model names as stored in the repository properties.
const (
	ModelHierarchical = "hierarchical"
	ModelKeyValue     = "key-value"
)

// Catalog reads what the repository already holds.
type Catalog interface {
	LoadTables(ctx context.Context) ([]*schema.Table, error)
	LoadVariables(ctx context.Context) ([]*schema.Variable, error)
}

// Shredder stages the changes for a batch of documents.
//
// Import may be called many times before SaveChanges. Commit must be
// called once the transaction passed to SaveChanges committed; a shredder
// whose transaction failed must be discarded.
type Shredder interface {
	// Model returns ModelHierarchical or ModelKeyValue.
	Model() string
	// Infrastructure returns the DDL of the bookkeeping tables.
	Infrastructure() []string
	Initialize(ctx context.Context, catalog Catalog) error
	Import(provider, documentID string, root *etree.Element) error
	SaveChanges(ctx context.Context, tx repository.Tx) error
	Commit()
}

// New returns the shredder for model.
func New(model string, opts Options) (Shredder, error) {
	if err := opts.withDefaults().Validate(); err != nil {
		return nil, err
	}
	switch model {
	case ModelHierarchical:
		return NewHierarchical(opts), nil
	case ModelKeyValue:
		return NewPath(opts), nil
	}
	return nil, fmt.Errorf("unknown model %q (want %s or %s)", model, ModelHierarchical, ModelKeyValue)
}
