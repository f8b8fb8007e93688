// Package ddl renders the minimal PostgreSQL DDL that brings the repository
// in line with a schema model.
package ddl

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hurou927/xmlshred/internal/datatype"
	"github.com/hurou927/xmlshred/internal/graph"
	"github.com/hurou927/xmlshred/internal/schema"
)

// Batch is the DDL for one schema, executed in order.
type Batch struct {
	Schema     string
	Statements []string
}

// Synthesize walks the model and returns one batch per schema with pending
// changes. Foreign key constraints follow every table statement of their
// schema.
func Synthesize(m *schema.Model) []Batch {
	var batches []Batch
	for _, s := range m.Schemas {
		var stmts, constraints []string
		if !s.Created {
			stmts = append(stmts, "CREATE SCHEMA IF NOT EXISTS "+Quote(s.Name))
		}
		for _, t := range graph.Ordered(s) {
			stmts = append(stmts, TableStatements(t)...)
			for _, fk := range t.ForeignKeys {
				if fk.State == schema.NotCreated {
					constraints = append(constraints, ForeignKeyStatement(fk))
				}
			}
		}
		stmts = append(stmts, constraints...)
		if len(stmts) > 0 {
			batches = append(batches, Batch{Schema: s.Name, Statements: stmts})
		}
	}
	return batches
}

// TableStatements returns CREATE TABLE for a new table, or the ALTER TABLE
// statements for its new and widened columns.
func TableStatements(t *schema.Table) []string {
	name := Quote(t.Schema, t.Name)

	if t.State == schema.NotCreated {
		var b strings.Builder
		fmt.Fprintf(&b, "CREATE TABLE %s (\n", name)
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "\t%s,\n", ColumnSQL(c))
		}
		pk := make([]string, len(t.PKColumnNames()))
		for i, c := range t.PKColumnNames() {
			pk[i] = Quote(c)
		}
		fmt.Fprintf(&b, "\tPRIMARY KEY (%s)\n)", strings.Join(pk, ", "))
		return []string{b.String()}
	}

	var stmts []string
	for _, c := range t.Columns {
		switch c.State {
		case schema.NotCreated:
			// existing rows have no value for the new column
			added := *c
			added.Nullable = true
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", name, ColumnSQL(&added)))
		case schema.PendingChanges:
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s",
				name, Quote(c.Name), TypeSQL(c), convertExpr(c)))
		}
	}
	return stmts
}

// ForeignKeyStatement returns the ADD CONSTRAINT statement for fk.
func ForeignKeyStatement(fk *schema.ForeignKey) string {
	child := make([]string, len(fk.ChildColumns))
	for i, c := range fk.ChildColumns {
		child[i] = Quote(c)
	}
	parent := make([]string, len(fk.ParentColumns))
	for i, c := range fk.ParentColumns {
		parent[i] = Quote(c)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED",
		Quote(fk.ChildSchema, fk.ChildTable), Quote(fk.Name),
		strings.Join(child, ", "), Quote(fk.ParentSchema, fk.ParentTable), strings.Join(parent, ", "))
}

// ColumnSQL returns the column definition used by CREATE and ADD COLUMN.
func ColumnSQL(c *schema.Column) string {
	parts := []string{Quote(c.Name), TypeSQL(c)}
	if c.Identity {
		parts = append(parts, "GENERATED BY DEFAULT AS IDENTITY")
	}
	if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if c.Unique {
		parts = append(parts, "UNIQUE")
	}
	return strings.Join(parts, " ")
}

// TypeSQL maps a column to its PostgreSQL type.
func TypeSQL(c *schema.Column) string {
	switch c.Kind {
	case datatype.Bool:
		return "boolean"
	case datatype.UUID:
		return "uuid"
	case datatype.Int:
		return "integer"
	case datatype.BigInt:
		return "bigint"
	case datatype.Float:
		return "double precision"
	case datatype.DateTime:
		return "timestamp"
	}
	if c.MaxLength > 0 && c.MaxLength <= schema.BoundedTextLimit {
		return fmt.Sprintf("varchar(%d)", c.MaxLength)
	}
	return "text"
}

// convertExpr rewrites the stored values of c into its new type.
func convertExpr(c *schema.Column) string {
	col := Quote(c.Name)
	if c.StoredKind == datatype.Bool {
		switch c.Kind {
		case datatype.Int, datatype.BigInt, datatype.Float:
			return fmt.Sprintf("CASE WHEN %s THEN 1 WHEN NOT %s THEN 0 END", col, col)
		case datatype.Text:
			return fmt.Sprintf("CASE WHEN %s THEN '1' WHEN NOT %s THEN '0' END", col, col)
		}
	}
	return fmt.Sprintf("%s::%s", col, TypeSQL(c))
}

// Quote joins and quotes identifier parts.
func Quote(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}
