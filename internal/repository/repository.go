// Package repository persists shredded documents into PostgreSQL, either
// live over a connection pool or as a psql script.
package repository

import (
	"context"
	"time"

	"github.com/hurou927/xmlshred/internal/schema"
)

// Document is one row of the document queue.
type Document struct {
	ID             string
	Provider       string
	SubjectID      *int64
	GenerationDate *time.Time
}

// Tx is a unit of work against the repository. Everything written through
// a Tx becomes visible at Commit or not at all.
type Tx interface {
	Exec(ctx context.Context, sql string) error
	// CopyRows bulk-appends rows to schemaName.table. Identity values in
	// rows are kept.
	CopyRows(ctx context.Context, schemaName, table string, columns []string, rows [][]any) (int64, error)
	SaveVariables(ctx context.Context, vars []*schema.Variable) error
	MarkProcessed(ctx context.Context, ids []string) error
	SetProperty(ctx context.Context, name, value string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository is a live repository database.
type Repository interface {
	Begin(ctx context.Context) (Tx, error)

	// Exists runs query and reports whether it returned at least one row.
	Exists(ctx context.Context, query string) (bool, error)
	TableExists(ctx context.Context, schemaName, table string) (bool, error)
	Properties(ctx context.Context) (map[string]string, error)

	LoadTables(ctx context.Context) ([]*schema.Table, error)
	LoadVariables(ctx context.Context) ([]*schema.Variable, error)

	ImportDocuments(ctx context.Context, docs []Document) (int64, error)
	SetPriority(ctx context.Context, ids []string) error
	PendingBatch(ctx context.Context, limit int) ([]string, error)

	Close()
}

// Repository property names. Their values are fixed when the repository
// is created.
const (
	PropertyModel          = "model"
	PropertyUseForeignKeys = "use_foreign_keys"
	PropertyMaxNameLength  = "max_name_length"
	// PropertyEmbeddedXML marks a repository whose documents were
	// reprocessed after embedded XML promotion was introduced.
	PropertyEmbeddedXML = "embedded_xml_reprocessed"
)
