package export

import (
	"context"
	"fmt"

	"github.com/hurou927/xmlshred/internal/schema"
)

// exportLinked follows parent_table/parent_id links until a full round over
// the linked tables adds no row. Each parent id is queried once per table.
func (e *Exporter) exportLinked(ctx context.Context, order []string) error {
	var linked []*schema.Table
	for _, name := range order {
		if tbl := e.g.Tables[name]; isLinked(tbl) {
			linked = append(linked, tbl)
		}
	}
	if len(linked) == 0 {
		return nil
	}

	// done[child][parent] counts the parent ids already queried
	done := make(map[string]map[string]int)
	for {
		before := e.rowCount()
		for _, tbl := range linked {
			if err := e.exportLinkedTable(ctx, tbl, done); err != nil {
				return fmt.Errorf("exporting linked %s: %w", tbl.FullName(), err)
			}
		}
		if e.rowCount() == before {
			return nil
		}
	}
}

func (e *Exporter) exportLinkedTable(ctx context.Context, tbl *schema.Table, done map[string]map[string]int) error {
	name := tbl.FullName()
	if done[name] == nil {
		done[name] = make(map[string]int)
	}

	for _, parentName := range sortedKeys(e.collectedIDs) {
		parent := e.g.Tables[parentName]
		if parent == nil || parent.Schema != tbl.Schema {
			continue
		}
		ids := e.collectedIDs[parentName]
		fresh := ids[done[name][parentName]:]
		if len(fresh) == 0 {
			continue
		}
		done[name][parentName] = len(ids)

		query, args := buildLinkedQuery(tbl, parent.Name, fresh)
		if err := e.fetch(ctx, tbl, "linked", query, args); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) rowCount() int {
	n := 0
	for _, rows := range e.collected {
		n += len(rows)
	}
	return n
}
