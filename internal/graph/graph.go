package graph

import (
	"sort"

	"github.com/hurou927/xmlshred/internal/schema"
)

// Edge links a nested element's table to the table of its parent element.
type Edge struct {
	FK          *schema.ForeignKey
	ChildTable  string // schema.table
	ParentTable string // schema.table
}

// Graph is the nesting structure of shredded tables, as recorded by their
// parent-link foreign keys.
type Graph struct {
	// Tables maps full name -> table
	Tables map[string]*schema.Table

	// Edges are parent links between distinct tables (child → parent)
	Edges []Edge

	// SelfRefs holds the links of elements nested in an element of the
	// same name, keyed by table full name
	SelfRefs map[string][]*schema.ForeignKey

	// Children maps parent full name → list of child full names
	Children map[string][]string

	// Parents maps child full name → list of parent full names
	Parents map[string][]string

	// adjacency for undirected connectivity
	adjacency map[string]map[string]bool
}

// Build constructs the graph of tables. Links to tables outside the set,
// such as the document_id key into public.document_infos, are ignored.
func Build(tables map[string]*schema.Table) *Graph {
	g := &Graph{
		Tables:    make(map[string]*schema.Table, len(tables)),
		SelfRefs:  make(map[string][]*schema.ForeignKey),
		Children:  make(map[string][]string),
		Parents:   make(map[string][]string),
		adjacency: make(map[string]map[string]bool, len(tables)),
	}

	for name, tbl := range tables {
		g.Tables[name] = tbl
		g.adjacency[name] = make(map[string]bool)
	}

	for name, tbl := range g.Tables {
		for _, fk := range tbl.ForeignKeys {
			parentKey := fk.ParentSchema + "." + fk.ParentTable
			if _, ok := g.Tables[parentKey]; !ok {
				continue
			}

			if fk.IsSelfRef {
				g.SelfRefs[name] = append(g.SelfRefs[name], fk)
				continue
			}

			g.Edges = append(g.Edges, Edge{FK: fk, ChildTable: name, ParentTable: parentKey})
			g.Children[parentKey] = append(g.Children[parentKey], name)
			g.Parents[name] = append(g.Parents[name], parentKey)
			g.adjacency[name][parentKey] = true
			g.adjacency[parentKey][name] = true
		}
	}

	return g
}

// FromSchema indexes the tables of one schema by full name.
func FromSchema(s *schema.Schema) map[string]*schema.Table {
	tables := make(map[string]*schema.Table, len(s.Tables))
	for _, t := range s.Tables {
		tables[t.FullName()] = t
	}
	return tables
}

// Roots returns the tables of document root elements, the ones carrying a
// document_id column, sorted by name.
func (g *Graph) Roots() []string {
	var roots []string
	for name, tbl := range g.Tables {
		if IsDocumentTable(tbl) {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	return roots
}

// IsDocumentTable reports whether t holds the root elements of documents.
func IsDocumentTable(t *schema.Table) bool {
	return t.Column(schema.DocumentIDColumn) != nil
}
