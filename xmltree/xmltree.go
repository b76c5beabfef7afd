// Package xmltree parses SOAP documents into a namespace-agnostic element
// tree. Every element keeps its children grouped by local tag name as an
// ordered sequence, even when a tag occurs only once, and exposes its
// attributes separately from its character data.
package xmltree

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/juju/errors"
	"golang.org/x/net/html/charset"
)

// Node is one parsed XML element.
type Node struct {
	Name     string
	Space    string
	Attrs    map[string]string
	Text     string
	Children map[string][]*Node

	elements []*Node
}

// Parse reads raw XML into a tree rooted at the document element. Documents
// declaring a non UTF-8 encoding are transcoded first.
func Parse(raw []byte) (*Node, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, errors.Annotate(err, "malformed XML document")
	}

	root := doc.Root()
	if root == nil {
		return nil, errors.New("XML document has no root element")
	}

	return convert(root), nil
}

func convert(e *etree.Element) *Node {
	n := &Node{
		Name:     e.Tag,
		Space:    e.Space,
		Attrs:    make(map[string]string, len(e.Attr)),
		Text:     strings.TrimSpace(e.Text()),
		Children: make(map[string][]*Node),
	}

	for _, a := range e.Attr {
		// namespace declarations are not attributes of the document model
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			continue
		}
		n.Attrs[a.Key] = a.Value
	}

	for _, child := range e.ChildElements() {
		c := convert(child)
		n.Children[c.Name] = append(n.Children[c.Name], c)
		n.elements = append(n.elements, c)
	}

	return n
}

// Child returns the first child element with the given local name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	if list := n.Children[name]; len(list) > 0 {
		return list[0]
	}
	return nil
}

// All returns every child element with the given local name in document order.
func (n *Node) All(name string) []*Node {
	if n == nil {
		return nil
	}
	return n.Children[name]
}

// Elements returns all child elements in document order.
func (n *Node) Elements() []*Node {
	if n == nil {
		return nil
	}
	return n.elements
}

// Path walks down the first matching child for each name.
func (n *Node) Path(names ...string) *Node {
	cur := n
	for _, name := range names {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Value returns the text at the given path, or "" when any step is missing.
func (n *Node) Value(names ...string) string {
	if target := n.Path(names...); target != nil {
		return target.Text
	}
	return ""
}

// Attr returns the attribute with the given local name.
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return n.Attrs[name]
}

// Find returns the first descendant (depth first, document order) with the
// given local name, or nil.
func (n *Node) Find(name string) *Node {
	if n == nil {
		return nil
	}
	for _, child := range n.elements {
		if child.Name == name {
			return child
		}
		if found := child.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// IsEmpty reports whether the element has neither child elements nor text.
func (n *Node) IsEmpty() bool {
	return n == nil || (len(n.elements) == 0 && n.Text == "")
}
