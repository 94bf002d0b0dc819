package model

import "fmt"

// NodeKind discriminates the variants of a call tree node.
type NodeKind string

const (
	KindDeclaration NodeKind = "declaration" // Method or class plus its upstream callers
	KindReference   NodeKind = "reference"   // A single call site rendered as a leaf
	KindComment     NodeKind = "comment"     // Free-form user annotation
)

// Node is the persisted, user-facing unit of a call tree.
//
// Which fields are meaningful depends on Kind:
//   - declaration: Name, Namespace, File, Line, Character, IsClass, HTTPAttribute,
//     Layer, Children, ReferenceLocations
//   - reference: File, Line, Character, ReferenceType
//   - comment: CommentText, Name (display label), File and Line of the node it
//     was inserted above
type Node struct {
	Kind NodeKind `json:"kind"`

	Name          string        `json:"name,omitempty"`
	Namespace     string        `json:"namespace,omitempty"`
	File          string        `json:"file,omitempty"`
	Line          int           `json:"line"`
	Character     int           `json:"character,omitempty"`
	IsClass       bool          `json:"isClass,omitempty"`
	HTTPAttribute string        `json:"httpAttribute,omitempty"`
	Layer         string        `json:"layer,omitempty"`
	ReferenceType ReferenceType `json:"referenceType,omitempty"`
	CommentText   string        `json:"commentText,omitempty"`

	Children           []*Node    `json:"children,omitempty"`
	ReferenceLocations []CallSite `json:"referenceLocations,omitempty"`
}

// NewDeclaration creates a declaration node for a method or class.
func NewDeclaration(name, namespace string, pos SourcePosition) *Node {
	return &Node{
		Kind:      KindDeclaration,
		Name:      name,
		Namespace: namespace,
		File:      pos.File,
		Line:      pos.Line,
		Character: pos.Character,
	}
}

// NewDeclarationFromDef creates a declaration node from a resolved MethodDef.
func NewDeclarationFromDef(def *MethodDef) *Node {
	n := NewDeclaration(def.Name, def.Namespace, def.Position())
	n.HTTPAttribute = def.HTTPAttribute
	n.ReferenceLocations = append([]CallSite(nil), def.ReferenceLocations...)
	return n
}

// NewReference creates a reference leaf for a call site.
func NewReference(cs CallSite) *Node {
	return &Node{
		Kind:          KindReference,
		File:          cs.File,
		Line:          cs.Line,
		Character:     cs.Character,
		ReferenceType: cs.ReferenceType,
	}
}

// NewComment creates a comment node anchored at the position of the node it annotates.
func NewComment(text, file string, line int) *Node {
	return &Node{
		Kind:        KindComment,
		Name:        "// " + text,
		CommentText: text,
		File:        file,
		Line:        line,
	}
}

// IsDeclaration reports whether n is a declaration node.
func (n *Node) IsDeclaration() bool { return n.Kind == KindDeclaration }

// IsComment reports whether n is a comment node.
func (n *Node) IsComment() bool { return n.Kind == KindComment }

// IsReference reports whether n is a reference node.
func (n *Node) IsReference() bool { return n.Kind == KindReference }

// Position returns the node's source position.
func (n *Node) Position() SourcePosition {
	return SourcePosition{File: n.File, Line: n.Line, Character: n.Character}
}

// CallSite returns the call site a reference node stands for.
func (n *Node) CallSite() CallSite {
	return CallSite{SourcePosition: n.Position(), ReferenceType: n.ReferenceType}
}

// QualifiedName returns "namespace.name".
func (n *Node) QualifiedName() string {
	return QualifiedName(n.Namespace, n.Name)
}

// Key returns the node's identity key. It is the only handle used for
// checkbox, selection and expansion state.
func (n *Node) Key() string {
	switch n.Kind {
	case KindComment:
		return fmt.Sprintf("comment_%s_%s_%d", n.CommentText, n.File, n.Line)
	case KindReference:
		return ReferenceKey(n.CallSite())
	default:
		return fmt.Sprintf("%s.%s_%s_%d", n.Namespace, n.Name, n.File, n.Line)
	}
}

// ReferenceKey returns the identity key of a call site.
func ReferenceKey(cs CallSite) string {
	return fmt.Sprintf("ref_%s_%d_%d_%s", cs.File, cs.Line, cs.Character, cs.ReferenceType)
}

// Label returns a short human-readable label.
func (n *Node) Label() string {
	switch n.Kind {
	case KindComment:
		return n.Name
	case KindReference:
		return n.Position().String()
	}
	if n.Namespace == "" {
		return n.Name
	}
	return n.QualifiedName()
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	if n.ReferenceLocations != nil {
		c.ReferenceLocations = append([]CallSite(nil), n.ReferenceLocations...)
	}
	return &c
}

// Count returns the flattened number of nodes in the subtree rooted at n,
// including n itself and every reference location.
func (n *Node) Count() int {
	total := 1 + len(n.ReferenceLocations)
	for _, child := range n.Children {
		total += child.Count()
	}
	return total
}

// Walk visits nodes depth-first in document order. Returning false from fn
// skips the node's children.
func Walk(nodes []*Node, fn func(n *Node, depth int) bool) {
	walk(nodes, 0, fn)
}

func walk(nodes []*Node, depth int, fn func(n *Node, depth int) bool) {
	for _, n := range nodes {
		if fn(n, depth) {
			walk(n.Children, depth+1, fn)
		}
	}
}

// Keys returns every identity key reachable from nodes, reference locations included.
func Keys(nodes []*Node) map[string]struct{} {
	keys := make(map[string]struct{})
	Walk(nodes, func(n *Node, _ int) bool {
		keys[n.Key()] = struct{}{}
		for _, cs := range n.ReferenceLocations {
			keys[ReferenceKey(cs)] = struct{}{}
		}
		return true
	})
	return keys
}
