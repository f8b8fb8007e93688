// Package xmldoc parses source documents and answers the structural
// questions the shredders ask about elements.
package xmldoc

import (
	"errors"
	"regexp"
	"strings"

	"github.com/beevik/etree"
)

// TextName is the node name used for character data children.
const TextName = "#text"

var (
	systemDoctype = regexp.MustCompile(`(?s)<!DOCTYPE .+? SYSTEM .+?>\s*`)
	markup        = regexp.MustCompile(`(?s)<.+?>`)
	htmlTag       = regexp.MustCompile(`(?i)<html`)
)

// ErrNoRoot is returned for documents without a root element.
var ErrNoRoot = errors.New("document has no root element")

// Parse reads raw into an element tree. External DOCTYPE declarations are
// dropped and leaf text that is itself XML is grafted into the tree.
func Parse(raw string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(systemDoctype.ReplaceAllString(raw, "")); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return nil, ErrNoRoot
	}
	promoteEmbedded(root)
	return root, nil
}

func promoteEmbedded(e *etree.Element) {
	for _, child := range e.ChildElements() {
		if len(child.ChildElements()) > 0 {
			promoteEmbedded(child)
			continue
		}
		text := InnerText(child)
		if !IsXML(text) {
			continue
		}
		doc := etree.NewDocument()
		if err := doc.ReadFromString(text); err != nil {
			continue
		}
		for _, tok := range append([]etree.Token(nil), child.Child...) {
			child.RemoveChild(tok)
		}
		for _, tok := range doc.Child {
			if el, ok := tok.(*etree.Element); ok {
				child.AddChild(el.Copy())
			}
		}
	}
}

// IsXML reports whether content is a well-formed XML document that is not HTML.
func IsXML(content string) bool {
	if !markup.MatchString(content) || htmlTag.MatchString(content) {
		return false
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString(content); err != nil {
		return false
	}
	return doc.Root() != nil
}

// Name returns the qualified name of e.
func Name(e *etree.Element) string {
	return e.FullTag()
}

// InnerText concatenates all character data below e.
func InnerText(e *etree.Element) string {
	var b strings.Builder
	var walk func(*etree.Element)
	walk = func(el *etree.Element) {
		for _, tok := range el.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				b.WriteString(t.Data)
			case *etree.Element:
				walk(t)
			}
		}
	}
	walk(e)
	return b.String()
}

// Node is an element child or a run of non-blank character data.
type Node struct {
	Element *etree.Element
	Text    string
}

// Name returns the element name, or TextName for character data.
func (n Node) Name() string {
	if n.Element == nil {
		return TextName
	}
	return Name(n.Element)
}

// Nodes returns the element children of e interleaved with its non-blank
// character data, in document order.
func Nodes(e *etree.Element) []Node {
	var nodes []Node
	for _, tok := range e.Child {
		switch t := tok.(type) {
		case *etree.Element:
			nodes = append(nodes, Node{Element: t})
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				nodes = append(nodes, Node{Text: t.Data})
			}
		}
	}
	return nodes
}

// HasNested reports whether e has element children.
func HasNested(e *etree.Element) bool {
	return len(e.ChildElements()) > 0
}

// IsNull reports an explicit nil="true" marker.
func IsNull(e *etree.Element) bool {
	for _, a := range e.Attr {
		if a.Key == "nil" && a.Value == "true" {
			return true
		}
	}
	return false
}

// IsEmpty reports an element with blank text that is not explicitly null.
func IsEmpty(e *etree.Element) bool {
	return strings.TrimSpace(InnerText(e)) == "" && !IsNull(e)
}

// Attributes returns the data-bearing attributes of e. The nil marker,
// count and namespace declarations are skipped.
func Attributes(e *etree.Element) []etree.Attr {
	var attrs []etree.Attr
	for _, a := range e.Attr {
		if a.Key == "nil" || isStructural(a) {
			continue
		}
		attrs = append(attrs, a)
	}
	return attrs
}

func isStructural(a etree.Attr) bool {
	name := strings.ToLower(strings.TrimSpace(a.FullKey()))
	return name == "count" || strings.HasPrefix(name, "xmlns")
}
