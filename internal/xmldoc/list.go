package xmldoc

import (
	"strings"

	"github.com/beevik/etree"
)

// ListPolicy decides whether the children of an element form a collection.
type ListPolicy interface {
	IsList(e *etree.Element) bool
}

// ListPolicyFunc adapts a function to ListPolicy.
type ListPolicyFunc func(e *etree.Element) bool

func (f ListPolicyFunc) IsList(e *etree.Element) bool { return f(e) }

// PluralHeuristic treats an element as a list when a child name repeats or
// when the first child name is the English singular of the element name
// ("items"/"item", "categories"/"category"). Irregular plurals are not
// recognised.
type PluralHeuristic struct{}

func (PluralHeuristic) IsList(e *etree.Element) bool {
	nodes := Nodes(e)
	if len(nodes) == 0 {
		return false
	}

	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.Name()] {
			return true
		}
		seen[n.Name()] = true
	}

	name := Name(e)
	first := nodes[0].Name()
	if first == strings.TrimSuffix(name, lastRune(name)) {
		return true
	}
	if strings.HasSuffix(first, "y") {
		return strings.HasPrefix(name, strings.TrimSuffix(first, "y"))
	}
	return false
}

func lastRune(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return ""
	}
	return string(r[len(r)-1])
}
