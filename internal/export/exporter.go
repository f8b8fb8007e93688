// Package export copies the rows shredded from a set of documents out of the
// repository.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/hurou927/xmlshred/internal/graph"
	"github.com/hurou927/xmlshred/internal/output"
	"github.com/hurou927/xmlshred/internal/schema"
)

// Exporter collects the rows of a set of documents, table by table.
type Exporter struct {
	q      schema.Querier
	g      *graph.Graph
	log    *zap.Logger
	dryRun bool

	// collected holds exported rows per table (full name → rows)
	collected map[string][][]any
	// collectedIDs holds the identity of every collected row, for child lookups
	collectedIDs map[string][]int64
	seen         map[string]map[int64]bool
}

// New creates a new Exporter over the tables of g.
func New(q schema.Querier, g *graph.Graph, log *zap.Logger, dryRun bool) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{
		q:            q,
		g:            g,
		log:          log,
		dryRun:       dryRun,
		collected:    make(map[string][][]any),
		collectedIDs: make(map[string][]int64),
		seen:         make(map[string]map[int64]bool),
	}
}

// Export collects the rows of documentIDs and writes them as a COPY script.
func (e *Exporter) Export(ctx context.Context, w io.Writer, documentIDs []string) error {
	topoResult := graph.TopoSortAll(e.g)
	if err := graph.ValidateCycles(topoResult); err != nil {
		e.log.Warn("exporting tables in a cycle last", zap.Error(err))
	}
	order := append(topoResult.Order, topoResult.CycleTables...)

	for _, name := range order {
		tbl := e.g.Tables[name]

		if graph.IsDocumentTable(tbl) {
			if err := e.exportRoot(ctx, tbl, documentIDs); err != nil {
				return fmt.Errorf("exporting root %s: %w", name, err)
			}
		}
		if len(e.g.Parents[name]) > 0 {
			if err := e.exportChild(ctx, tbl); err != nil {
				return fmt.Errorf("exporting child %s: %w", name, err)
			}
		}

		if selfRefs := e.g.SelfRefs[name]; len(selfRefs) > 0 {
			if err := e.exportSelfRef(ctx, tbl, selfRefs); err != nil {
				return fmt.Errorf("exporting nested %s: %w", name, err)
			}
		}
	}

	if err := e.exportLinked(ctx, order); err != nil {
		return err
	}

	if e.dryRun {
		return nil
	}

	cw := output.NewWriter(w)
	if err := cw.WriteHeader(); err != nil {
		return err
	}
	for _, name := range order {
		tbl := e.g.Tables[name]
		if err := cw.WriteTableData(tbl.Schema, tbl.Name, tbl.ColumnNames(), e.collected[name]); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return cw.WriteFooter()
}

func (e *Exporter) exportRoot(ctx context.Context, tbl *schema.Table, documentIDs []string) error {
	query, args := buildRootQuery(tbl, documentIDs)
	return e.fetch(ctx, tbl, "root", query, args)
}

func (e *Exporter) exportChild(ctx context.Context, tbl *schema.Table) error {
	query, args := buildChildQuery(tbl, e.collectedIDs)
	if query == "" {
		return nil
	}
	return e.fetch(ctx, tbl, "child", query, args)
}

func (e *Exporter) exportSelfRef(ctx context.Context, tbl *schema.Table, selfRefs []*schema.ForeignKey) error {
	for _, fk := range selfRefs {
		seeds := e.collectedIDs[tbl.FullName()]
		if len(seeds) == 0 {
			return nil
		}
		query, args := buildSelfRefQuery(tbl, fk, seeds)
		if err := e.fetch(ctx, tbl, "nested", query, args); err != nil {
			return err
		}
	}
	return nil
}

// fetch runs query and collects the rows it returns.
func (e *Exporter) fetch(ctx context.Context, tbl *schema.Table, kind, query string, args []any) error {
	e.log.Debug("export query",
		zap.String("kind", kind),
		zap.String("table", tbl.FullName()),
		zap.String("query", query),
		zap.Int("args", len(args)))
	if e.dryRun {
		return nil
	}

	rows, err := e.q.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	added := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return err
		}
		ok, err := e.addRow(tbl, values)
		if err != nil {
			return err
		}
		if ok {
			added++
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	e.log.Debug("export rows", zap.String("table", tbl.FullName()), zap.Int("count", added))
	return nil
}

// addRow stores values unless a row with the same identity is already
// collected. It reports whether the row was new.
func (e *Exporter) addRow(tbl *schema.Table, values []any) (bool, error) {
	name := tbl.FullName()
	idx := identityIndex(tbl)
	if idx < 0 || idx >= len(values) {
		return false, fmt.Errorf("table %s has no %s column", name, schema.IdentityColumn)
	}
	id, err := cast.ToInt64E(values[idx])
	if err != nil {
		return false, fmt.Errorf("reading %s.%s: %w", name, schema.IdentityColumn, err)
	}

	if e.seen[name] == nil {
		e.seen[name] = make(map[int64]bool)
	}
	if e.seen[name][id] {
		return false, nil
	}
	e.seen[name][id] = true

	for i, v := range values {
		values[i] = normalize(v)
	}
	e.collected[name] = append(e.collected[name], values)
	e.collectedIDs[name] = append(e.collectedIDs[name], id)
	return true, nil
}

func identityIndex(tbl *schema.Table) int {
	for i, c := range tbl.Columns {
		if c.Name == schema.IdentityColumn {
			return i
		}
	}
	return -1
}

// normalize turns driver values the COPY writer does not know into text.
func normalize(v any) any {
	switch v := v.(type) {
	case [16]byte:
		return uuid.UUID(v).String()
	case int16:
		return int32(v)
	case float32:
		return float64(v)
	}
	return v
}

// CollectedSummary returns a summary of collected rows for reporting.
func (e *Exporter) CollectedSummary() []string {
	var lines []string
	keys := make([]string, 0, len(e.collected))
	for k := range e.collected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %d rows", k, len(e.collected[k])))
	}
	return lines
}
