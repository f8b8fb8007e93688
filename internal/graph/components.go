package graph

import "sort"

// Component is a group of tables connected by parent links. Tables
// shredded from one kind of document form one component.
type Component struct {
	// Root is the document table of the component, empty when none of its
	// tables carries document_id.
	Root   string
	Tables []string
}

// FindComponents groups the tables by connectivity. Components and their
// tables come back sorted by name.
func FindComponents(g *Graph) []Component {
	names := make([]string, 0, len(g.Tables))
	for name := range g.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	visited := make(map[string]bool, len(names))
	var components []Component
	for _, name := range names {
		if visited[name] {
			continue
		}
		comp := Component{Tables: reach(g, name, visited)}
		sort.Strings(comp.Tables)
		for _, t := range comp.Tables {
			if IsDocumentTable(g.Tables[t]) {
				comp.Root = t
				break
			}
		}
		components = append(components, comp)
	}
	return components
}

// reach returns every table connected to start, marking them visited.
func reach(g *Graph, start string, visited map[string]bool) []string {
	queue := []string{start}
	visited[start] = true
	var result []string

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for neighbor := range g.adjacency[node] {
			if !visited[neighbor] {
				visited[neighbor] = true
				queue = append(queue, neighbor)
			}
		}
	}
	return result
}
