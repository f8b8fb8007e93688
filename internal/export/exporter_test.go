package export

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurou927/xmlshred/internal/datatype"
	"github.com/hurou927/xmlshred/internal/graph"
	"github.com/hurou927/xmlshred/internal/schema"
)

// memRows serves precomputed values through pgx.Rows.
type memRows struct {
	values [][]any
	pos    int
}

func (r *memRows) Close()                                       {}
func (r *memRows) Err() error                                   { return nil }
func (r *memRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *memRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *memRows) Scan(...any) error                            { return fmt.Errorf("not supported") }
func (r *memRows) RawValues() [][]byte                          { return nil }
func (r *memRows) Conn() *pgx.Conn                              { return nil }

func (r *memRows) Next() bool {
	r.pos++
	return r.pos <= len(r.values)
}

func (r *memRows) Values() ([]any, error) {
	return slices.Clone(r.values[r.pos-1]), nil
}

var (
	fromRe      = regexp.MustCompile(`FROM ("[^"]+"\."[^"]+")`)
	anyRe       = regexp.MustCompile(`"([^"]+)" = ANY\(\$(\d+)\)`)
	eqRe        = regexp.MustCompile(`"([^"]+)" = \$(\d+)`)
	recursiveRe = regexp.MustCompile(`JOIN tree r ON t\."([^"]+)" = r\."([^"]+)"`)
)

// memDB evaluates the handful of query shapes the exporter issues against
// in-memory tables.
type memDB struct {
	tables  map[string]*schema.Table
	data    map[string][]schema.Row
	queries []string
}

func (db *memDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.queries = append(db.queries, sql)

	m := fromRe.FindStringSubmatch(sql)
	if m == nil {
		return nil, fmt.Errorf("no table in %q", sql)
	}
	var tbl *schema.Table
	for _, t := range db.tables {
		if (pgx.Identifier{t.Schema, t.Name}).Sanitize() == m[1] {
			tbl = t
		}
	}
	if tbl == nil {
		return nil, fmt.Errorf("unknown table %s", m[1])
	}
	rows := db.data[tbl.FullName()]

	var selected []schema.Row
	if rec := recursiveRe.FindStringSubmatch(sql); rec != nil {
		selected = closure(rows, args[0].([]int64), rec[1])
	} else {
		or := strings.Contains(sql, " OR ")
		for _, row := range rows {
			if matches(sql, row, args, or) {
				selected = append(selected, row)
			}
		}
	}

	out := &memRows{}
	for _, row := range selected {
		vals := make([]any, len(tbl.Columns))
		for i, c := range tbl.Columns {
			vals[i] = row[c.Name]
		}
		out.values = append(out.values, vals)
	}
	return out, nil
}

func matches(sql string, row schema.Row, args []any, or bool) bool {
	var results []bool
	for _, m := range anyRe.FindAllStringSubmatch(sql, -1) {
		results = append(results, slices.Contains(texts(args[argIndex(m[2])]), fmt.Sprint(row[m[1]])))
	}
	for _, m := range eqRe.FindAllStringSubmatch(sql, -1) {
		results = append(results, fmt.Sprint(args[argIndex(m[2])]) == fmt.Sprint(row[m[1]]))
	}
	if or {
		return slices.Contains(results, true)
	}
	return !slices.Contains(results, false)
}

func closure(rows []schema.Row, seeds []int64, link string) []schema.Row {
	in := make(map[string]bool)
	for _, id := range seeds {
		in[fmt.Sprint(id)] = true
	}
	for grown := true; grown; {
		grown = false
		for _, row := range rows {
			id := fmt.Sprint(row[schema.IdentityColumn])
			if !in[id] && row[link] != nil && in[fmt.Sprint(row[link])] {
				in[id] = true
				grown = true
			}
		}
	}
	var out []schema.Row
	for _, row := range rows {
		if in[fmt.Sprint(row[schema.IdentityColumn])] {
			out = append(out, row)
		}
	}
	return out
}

func argIndex(s string) int {
	var n int
	fmt.Sscan(s, &n)
	return n - 1
}

func texts(arg any) []string {
	var out []string
	switch v := arg.(type) {
	case []string:
		out = v
	case []int64:
		for _, id := range v {
			out = append(out, fmt.Sprint(id))
		}
	}
	return out
}

func newTable(name string, columns ...string) *schema.Table {
	t := &schema.Table{
		Schema:     "acme",
		Name:       name,
		PrimaryKey: &schema.PrimaryKey{Columns: []string{schema.IdentityColumn}},
	}
	t.AddColumn(&schema.Column{Name: schema.IdentityColumn, Kind: datatype.Int, Identity: true})
	for _, c := range columns {
		t.AddColumn(&schema.Column{Name: c, Kind: datatype.Text, Nullable: true})
	}
	return t
}

func link(child *schema.Table, parent string) {
	col := parent + "_id"
	child.AddColumn(&schema.Column{Name: col, Kind: datatype.Int, Nullable: true})
	child.AddForeignKey(&schema.ForeignKey{
		Name:          "fk_" + child.Name + "_" + parent,
		ChildColumns:  []string{col},
		ParentSchema:  "acme",
		ParentTable:   parent,
		ParentColumns: []string{schema.IdentityColumn},
	})
}

func index(tables ...*schema.Table) map[string]*schema.Table {
	m := make(map[string]*schema.Table, len(tables))
	for _, t := range tables {
		m[t.FullName()] = t
	}
	return m
}

func foreignKeyDB() *memDB {
	order := newTable("order", schema.DocumentIDColumn)
	item := newTable("item", "text")
	link(item, "order")
	part := newTable("part", "name")
	link(part, "item")
	link(part, "part")

	return &memDB{
		tables: index(order, item, part),
		data: map[string][]schema.Row{
			"acme.order": {
				{"id": int64(1), "document_id": "a.xml"},
				{"id": int64(2), "document_id": "b.xml"},
			},
			"acme.item": {
				{"id": int64(1), "order_id": int64(1), "text": "pen"},
				{"id": int64(2), "order_id": int64(2), "text": "ink"},
				{"id": int64(3), "order_id": int64(1), "text": "pad"},
			},
			"acme.part": {
				{"id": int64(1), "item_id": int64(1), "name": "cap"},
				{"id": int64(2), "part_id": int64(1), "name": "clip"},
				{"id": int64(3), "part_id": int64(2), "name": "spring"},
				{"id": int64(4), "item_id": int64(2), "name": "cartridge"},
			},
		},
	}
}

func TestExportFollowsForeignKeys(t *testing.T) {
	db := foreignKeyDB()
	e := New(db, graph.Build(db.tables), nil, false)

	var buf bytes.Buffer
	require.NoError(t, e.Export(context.Background(), &buf, []string{"a.xml"}))
	out := buf.String()

	assert.Contains(t, out, "COPY \"acme\".\"order\" (\"id\", \"document_id\") FROM stdin;\n1\ta.xml\n\\.\n")
	assert.Contains(t, out, "COPY \"acme\".\"item\" (\"id\", \"text\", \"order_id\") FROM stdin;\n1\tpen\t1\n3\tpad\t1\n\\.\n")
	assert.Contains(t, out, "1\tcap\t1\t\\N\n2\tclip\t\\N\t1\n3\tspring\t\\N\t2\n\\.\n")
	assert.NotContains(t, out, "cartridge")
	assert.NotContains(t, out, "ink")

	assert.Less(t, strings.Index(out, `"acme"."order"`), strings.Index(out, `"acme"."item"`))
	assert.Less(t, strings.Index(out, `"acme"."item"`), strings.Index(out, `"acme"."part"`))
	assert.True(t, strings.HasPrefix(out, "BEGIN;"))
	assert.True(t, strings.HasSuffix(out, "COMMIT;\n"))

	assert.Equal(t, []string{
		"  acme.item: 2 rows",
		"  acme.order: 1 rows",
		"  acme.part: 3 rows",
	}, e.CollectedSummary())
}

func TestExportFollowsParentLinks(t *testing.T) {
	order := newTable("order", schema.DocumentIDColumn)
	item := newTable("item", schema.ParentTableColumn, schema.ParentIDColumn, "text")
	note := newTable("note", schema.ParentTableColumn, schema.ParentIDColumn, "body")
	db := &memDB{
		tables: index(order, item, note),
		data: map[string][]schema.Row{
			"acme.order": {
				{"id": int64(1), "document_id": "a.xml"},
				{"id": int64(2), "document_id": "b.xml"},
			},
			"acme.item": {
				{"id": int64(1), "parent_table": "order", "parent_id": int64(1), "text": "pen"},
				{"id": int64(2), "parent_table": "order", "parent_id": int64(2), "text": "ink"},
			},
			"acme.note": {
				{"id": int64(1), "parent_table": "item", "parent_id": int64(1), "body": "fragile"},
				{"id": int64(2), "parent_table": "note", "parent_id": int64(1), "body": "really"},
				{"id": int64(3), "parent_table": "item", "parent_id": int64(2), "body": "refill"},
				{"id": int64(4), "parent_table": "note", "parent_id": int64(2), "body": "very"},
			},
		},
	}
	e := New(db, graph.Build(db.tables), nil, false)

	var buf bytes.Buffer
	require.NoError(t, e.Export(context.Background(), &buf, []string{"a.xml"}))
	out := buf.String()

	assert.Contains(t, out, "1\torder\t1\tpen\n\\.\n")
	assert.Contains(t, out, "1\titem\t1\tfragile\n2\tnote\t1\treally\n4\tnote\t2\tvery\n\\.\n")
	assert.NotContains(t, out, "refill")
	assert.NotContains(t, out, "ink")
}

func TestExportDryRunDoesNotQuery(t *testing.T) {
	db := foreignKeyDB()
	e := New(db, graph.Build(db.tables), nil, true)

	var buf bytes.Buffer
	require.NoError(t, e.Export(context.Background(), &buf, []string{"a.xml"}))
	assert.Empty(t, buf.String())
	assert.Empty(t, db.queries)
	assert.Empty(t, e.CollectedSummary())
}

func TestBuildChildQuery(t *testing.T) {
	item := newTable("item", "text")
	link(item, "order")
	link(item, "box")

	q, args := buildChildQuery(item, map[string][]int64{})
	assert.Empty(t, q)
	assert.Nil(t, args)

	q, args = buildChildQuery(item, map[string][]int64{
		"acme.order": {1, 3},
		"acme.box":   {7},
	})
	assert.Equal(t,
		`SELECT "id", "text", "order_id", "box_id" FROM "acme"."item" WHERE "order_id" = ANY($1) OR "box_id" = ANY($2) ORDER BY "id"`, q)
	assert.Equal(t, []any{[]int64{1, 3}, []int64{7}}, args)
}

func TestBuildSelfRefQuery(t *testing.T) {
	part := newTable("part")
	link(part, "part")

	q, _ := buildSelfRefQuery(part, part.ForeignKeys[0], nil)
	assert.Empty(t, q)

	q, args := buildSelfRefQuery(part, part.ForeignKeys[0], []int64{4})
	assert.Contains(t, q, `SELECT t."id", t."part_id" FROM "acme"."part" t WHERE t."id" = ANY($1)`)
	assert.Contains(t, q, `JOIN tree r ON t."part_id" = r."id"`)
	assert.Equal(t, []any{[]int64{4}}, args)
}

func TestNormalize(t *testing.T) {
	id := [16]byte{0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x12, 0x34, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc}
	assert.Equal(t, "12345678-1234-1234-1234-123456789abc", normalize(id))
	assert.Equal(t, int32(3), normalize(int16(3)))
	assert.Equal(t, "x", normalize("x"))
}
