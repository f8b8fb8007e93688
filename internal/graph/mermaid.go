package graph

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hurou927/xmlshred/internal/schema"
)

// WriteMermaid writes the graph as a Mermaid entity-relationship diagram.
func WriteMermaid(w io.Writer, g *Graph) error {
	names := sortedTables(g)

	if _, err := fmt.Fprintln(w, "erDiagram"); err != nil {
		return err
	}
	for _, name := range names {
		tbl := g.Tables[name]
		fmt.Fprintf(w, "    %s {\n", mermaidID(name))
		pk := make(map[string]bool)
		for _, c := range tbl.PKColumnNames() {
			pk[c] = true
		}
		for _, c := range tbl.Columns {
			marker := ""
			if pk[c.Name] {
				marker = " PK"
			}
			fmt.Fprintf(w, "        %s %s%s\n", columnType(c), mermaidID(c.Name), marker)
		}
		fmt.Fprintln(w, "    }")
	}

	edges := append([]Edge(nil), g.Edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].ParentTable != edges[j].ParentTable {
			return edges[i].ParentTable < edges[j].ParentTable
		}
		return edges[i].ChildTable < edges[j].ChildTable
	})
	for _, edge := range edges {
		fmt.Fprintf(w, "    %s ||--o{ %s : %q\n",
			mermaidID(edge.ParentTable), mermaidID(edge.ChildTable), strings.Join(edge.FK.ChildColumns, ", "))
	}
	for _, name := range names {
		for _, fk := range g.SelfRefs[name] {
			fmt.Fprintf(w, "    %s ||--o{ %s : %q\n", mermaidID(name), mermaidID(name), strings.Join(fk.ChildColumns, ", "))
		}
	}
	return nil
}

// WriteText writes a text summary of the graph to w.
func WriteText(w io.Writer, g *Graph) error {
	components := FindComponents(g)

	fmt.Fprintf(w, "Tables: %d\n", len(g.Tables))
	fmt.Fprintf(w, "Foreign Keys: %d\n", len(g.Edges)+countSelfRefs(g))
	fmt.Fprintf(w, "Document trees: %d\n\n", len(components))

	topoResult := TopoSortAll(g)
	if topoResult.HasCycle {
		fmt.Fprintf(w, "WARNING: Circular dependencies detected: %v\n\n", topoResult.CycleTables)
	}

	fmt.Fprintf(w, "Document tables: %v\n\n", g.Roots())

	for i, comp := range components {
		root := comp.Root
		if root == "" {
			root = "no document table"
		}
		fmt.Fprintf(w, "=== Tree %d: %s (%d tables) ===\n", i+1, root, len(comp.Tables))

		topoComp := TopoSort(g, comp.Tables)
		for j, t := range topoComp.Order {
			tbl := g.Tables[t]
			fmt.Fprintf(w, "  %d. %s (%d cols, %s)\n", j+1, t, len(tbl.Columns), linkSummary(tbl))
			for _, c := range tbl.Columns {
				fmt.Fprintf(w, "       %-30s %s\n", c.Name, columnType(c))
			}
		}
		if topoComp.HasCycle {
			fmt.Fprintf(w, "  Cycle tables: %v\n", topoComp.CycleTables)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func linkSummary(tbl *schema.Table) string {
	var parents []string
	for _, fk := range tbl.ForeignKeys {
		parents = append(parents, fk.ParentSchema+"."+fk.ParentTable)
	}
	if len(parents) == 0 {
		if tbl.Column(schema.ParentTableColumn) != nil {
			return "linked by parent_table/parent_id"
		}
		return "no parent"
	}
	return "parent: " + strings.Join(parents, ", ")
}

func columnType(c *schema.Column) string {
	switch {
	case c.Identity:
		return "identity"
	case c.MaxLength == schema.Unbounded:
		return c.Kind.String()
	case c.MaxLength > 0:
		return fmt.Sprintf("%s(%d)", c.Kind, c.MaxLength)
	default:
		return c.Kind.String()
	}
}

func sortedTables(g *Graph) []string {
	names := make([]string, 0, len(g.Tables))
	for name := range g.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mermaidID converts a schema.table name to a Mermaid-safe identifier.
func mermaidID(fullName string) string {
	return strings.NewReplacer(".", "_", "-", "_", ":", "_", " ", "_").Replace(fullName)
}

func countSelfRefs(g *Graph) int {
	count := 0
	for _, fks := range g.SelfRefs {
		count += len(fks)
	}
	return count
}
