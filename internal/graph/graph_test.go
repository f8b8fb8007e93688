package graph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurou927/xmlshred/internal/datatype"
	"github.com/hurou927/xmlshred/internal/schema"
)

func table(name string, parents ...string) *schema.Table {
	t := &schema.Table{
		Schema:     "acme",
		Name:       name,
		PrimaryKey: &schema.PrimaryKey{Columns: []string{schema.IdentityColumn}},
	}
	t.AddColumn(&schema.Column{Name: schema.IdentityColumn, Kind: datatype.Int, Identity: true})
	for _, p := range parents {
		col := p + "_id"
		t.AddColumn(&schema.Column{Name: col, Kind: datatype.Int, Nullable: true})
		t.AddForeignKey(&schema.ForeignKey{
			Name:          "fk_" + name + "_" + p,
			ChildColumns:  []string{col},
			ParentSchema:  "acme",
			ParentTable:   p,
			ParentColumns: []string{schema.IdentityColumn},
		})
	}
	return t
}

func TestOrderedPutsParentsFirst(t *testing.T) {
	s := &schema.Schema{Name: "acme"}
	// registration order deliberately lists a child before its parent
	s.Register(table("item", "order"))
	s.Register(table("order"))
	s.Register(table("note"))
	s.Register(table("price", "item"))

	var names []string
	for _, tbl := range Ordered(s) {
		names = append(names, tbl.Name)
	}
	assert.Equal(t, []string{"order", "note", "item", "price"}, names)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	s := &schema.Schema{Name: "acme"}
	s.Register(table("a", "b"))
	s.Register(table("b", "a"))
	s.Register(table("c"))

	g := Build(FromSchema(s))
	result := TopoSortAll(g)
	assert.True(t, result.HasCycle)
	assert.Equal(t, []string{"acme.c"}, result.Order)
	assert.ElementsMatch(t, []string{"acme.a", "acme.b"}, result.CycleTables)
	assert.Error(t, ValidateCycles(result))

	assert.Len(t, Ordered(s), 3)
}

func TestBuildIgnoresOutOfScopeParents(t *testing.T) {
	root := table("order")
	root.AddColumn(&schema.Column{Name: schema.DocumentIDColumn, Kind: datatype.Text})
	root.AddForeignKey(&schema.ForeignKey{
		Name:         "fk_order_document_infos",
		ChildColumns: []string{schema.DocumentIDColumn},
		ParentSchema: schema.DefaultSchema,
		ParentTable:  schema.DocumentsTable,
	})
	s := &schema.Schema{Name: "acme"}
	s.Register(root)
	s.Register(table("item", "order"))

	g := Build(FromSchema(s))
	assert.Len(t, g.Edges, 1)
	assert.Equal(t, []string{"acme.order"}, g.Roots())
	assert.Equal(t, []Component{{Root: "acme.order", Tables: []string{"acme.item", "acme.order"}}}, FindComponents(g))
}

func TestComponentsWithoutDocumentTable(t *testing.T) {
	s := &schema.Schema{Name: "acme"}
	s.Register(table("note"))
	s.Register(table("item", "order"))
	s.Register(table("order"))

	comps := FindComponents(Build(FromSchema(s)))
	require.Len(t, comps, 2)
	assert.Equal(t, Component{Tables: []string{"acme.item", "acme.order"}}, comps[0])
	assert.Equal(t, Component{Tables: []string{"acme.note"}}, comps[1])
}

func TestWriters(t *testing.T) {
	s := &schema.Schema{Name: "acme"}
	s.Register(table("order"))
	s.Register(table("item", "order"))
	g := Build(FromSchema(s))

	var buf bytes.Buffer
	require.NoError(t, WriteMermaid(&buf, g))
	assert.Contains(t, buf.String(), "erDiagram")
	assert.Contains(t, buf.String(), `acme_order ||--o{ acme_item : "order_id"`)

	buf.Reset()
	require.NoError(t, WriteText(&buf, g))
	assert.Contains(t, buf.String(), "Tables: 2")
	assert.Contains(t, buf.String(), "1. acme.order")
	assert.Contains(t, buf.String(), "2. acme.item (2 cols, parent: acme.order)")
	assert.Contains(t, buf.String(), "=== Tree 1: no document table (2 tables) ===")
}
