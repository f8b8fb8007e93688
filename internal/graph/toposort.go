package graph

import (
	"fmt"
	"sort"

	"github.com/hurou927/xmlshred/internal/schema"
)

// TopoResult holds the result of topological sorting.
type TopoResult struct {
	// Order is the topological order (parents before children).
	Order []string
	// HasCycle is true if the graph contains a cycle.
	HasCycle bool
	// CycleTables lists tables involved in cycles (if any).
	CycleTables []string
}

// TopoSort performs Kahn's algorithm on the given set of tables within the
// graph. Ties are broken by the order of tables, so the result is stable
// for a stable input.
func TopoSort(g *Graph, tables []string) TopoResult {
	tableSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		tableSet[t] = true
	}

	inDegree := make(map[string]int, len(tables))
	localChildren := make(map[string][]string)
	for _, t := range tables {
		inDegree[t] += 0
		for _, p := range g.Parents[t] {
			if tableSet[p] {
				localChildren[p] = append(localChildren[p], t)
				inDegree[t]++
			}
		}
	}

	var queue []string
	for _, t := range tables {
		if inDegree[t] == 0 {
			queue = append(queue, t)
		}
	}

	order := make([]string, 0, len(tables))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, child := range localChildren[node] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	result := TopoResult{Order: order}
	if len(order) < len(tables) {
		result.HasCycle = true
		for _, t := range tables {
			if inDegree[t] > 0 {
				result.CycleTables = append(result.CycleTables, t)
			}
		}
	}
	return result
}

// TopoSortAll sorts every table in the graph, visiting names alphabetically.
func TopoSortAll(g *Graph) TopoResult {
	all := make([]string, 0, len(g.Tables))
	for name := range g.Tables {
		all = append(all, name)
	}
	sort.Strings(all)
	return TopoSort(g, all)
}

// ValidateCycles checks for cycles and returns a descriptive error if found.
func ValidateCycles(result TopoResult) error {
	if !result.HasCycle {
		return nil
	}
	return fmt.Errorf("circular dependency detected among tables: %v", result.CycleTables)
}

// Ordered returns the tables of s with every parent ahead of its children.
// Tables keep their registration order otherwise; tables caught in a cycle
// go last.
func Ordered(s *schema.Schema) []*schema.Table {
	g := Build(FromSchema(s))
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.FullName()
	}

	result := TopoSort(g, names)
	order := append(result.Order, result.CycleTables...)

	tables := make([]*schema.Table, 0, len(order))
	for _, name := range order {
		tables = append(tables, g.Tables[name])
	}
	return tables
}
