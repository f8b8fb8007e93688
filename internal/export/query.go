package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hurou927/xmlshred/internal/schema"
)

// selectList renders the columns of table in ordinal order, prefixed with
// alias when it is not empty.
func selectList(table *schema.Table, alias string) string {
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = pgx.Identifier{c.Name}.Sanitize()
		if alias != "" {
			cols[i] = alias + "." + cols[i]
		}
	}
	return strings.Join(cols, ", ")
}

func quotedName(table *schema.Table) string {
	return pgx.Identifier{table.Schema, table.Name}.Sanitize()
}

func quotedColumn(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// buildRootQuery selects the rows of a document table that belong to
// documentIDs.
func buildRootQuery(table *schema.Table, documentIDs []string) (string, []any) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ANY($1) ORDER BY %s",
		selectList(table, ""), quotedName(table),
		quotedColumn(schema.DocumentIDColumn), quotedColumn(schema.IdentityColumn))
	return q, []any{documentIDs}
}

// buildChildQuery selects the rows of table whose parent row was collected
// through any of its foreign keys. parentIDs maps parent full name → ids.
func buildChildQuery(table *schema.Table, parentIDs map[string][]int64) (string, []any) {
	var conditions []string
	var args []any

	for _, fk := range table.ForeignKeys {
		if fk.IsSelfRef || len(fk.ChildColumns) != 1 {
			continue
		}
		ids := parentIDs[fk.ParentSchema+"."+fk.ParentTable]
		if len(ids) == 0 {
			continue
		}
		args = append(args, ids)
		conditions = append(conditions,
			fmt.Sprintf("%s = ANY($%d)", quotedColumn(fk.ChildColumns[0]), len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		selectList(table, ""), quotedName(table),
		strings.Join(conditions, " OR "), quotedColumn(schema.IdentityColumn))
	return q, args
}

// buildSelfRefQuery builds a recursive CTE that walks from the seed rows
// down to every row nested under them through fk.
func buildSelfRefQuery(table *schema.Table, fk *schema.ForeignKey, seedIDs []int64) (string, []any) {
	if len(seedIDs) == 0 || len(fk.ChildColumns) != 1 || len(fk.ParentColumns) != 1 {
		return "", nil
	}

	q := fmt.Sprintf(`WITH RECURSIVE tree AS (
  SELECT %[1]s FROM %[2]s t WHERE t.%[3]s = ANY($1)
  UNION
  SELECT %[1]s FROM %[2]s t JOIN tree r ON t.%[4]s = r.%[5]s
)
SELECT * FROM tree ORDER BY %[3]s`,
		selectList(table, "t"), quotedName(table),
		quotedColumn(schema.IdentityColumn),
		quotedColumn(fk.ChildColumns[0]), quotedColumn(fk.ParentColumns[0]))

	return q, []any{seedIDs}
}

// buildLinkedQuery selects the rows of table recorded under the given rows
// of parentTable through the parent_table and parent_id columns.
func buildLinkedQuery(table *schema.Table, parentTable string, parentIDs []int64) (string, []any) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 AND %s = ANY($2) ORDER BY %s",
		selectList(table, ""), quotedName(table),
		quotedColumn(schema.ParentTableColumn), quotedColumn(schema.ParentIDColumn),
		quotedColumn(schema.IdentityColumn))
	return q, []any{parentTable, parentIDs}
}

// isLinked reports whether table records its parent by name and id instead
// of a foreign key.
func isLinked(table *schema.Table) bool {
	return table.Column(schema.ParentTableColumn) != nil && table.Column(schema.ParentIDColumn) != nil
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
