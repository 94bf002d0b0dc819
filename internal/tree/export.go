package tree

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/abramin/upstream/internal/model"
)

// FileExtension is the suffix of exported JSON files.
const FileExtension = ".upstream.json"

// SerializedNode is a node annotated with its checkbox state. Comments carry
// no state.
type SerializedNode struct {
	model.Node
	IsComment          bool                 `json:"isComment,omitempty"`
	Checked            *bool                `json:"checked,omitempty"`
	Children           []*SerializedNode    `json:"children,omitempty"`
	ReferenceLocations []SerializedCallSite `json:"referenceLocations,omitempty"`
}

// SerializedCallSite is a reference location annotated with its checkbox state.
type SerializedCallSite struct {
	model.CallSite
	Checked *bool `json:"checked,omitempty"`
}

// ImportResult reports what an import added.
type ImportResult struct {
	Added      int
	Duplicates int
}

type exportDocument struct {
	ExportedAt string            `json:"exportedAt"`
	Trees      []*SerializedNode `json:"trees"`
}

type importDocument struct {
	ExportedAt string          `json:"exportedAt"`
	Trees      json.RawMessage `json:"trees"`
}

// SerializeWithCheckboxes copies n and records the current checked state of
// every node in it.
func (m *Model) SerializeWithCheckboxes(n *model.Node) *SerializedNode {
	s := &SerializedNode{Node: *n}
	s.Node.Children = nil
	s.Node.ReferenceLocations = nil
	if n.IsComment() {
		s.IsComment = true
	} else {
		s.Checked = boolPtr(m.IsChecked(n.Key()))
	}
	for _, c := range n.Children {
		s.Children = append(s.Children, m.SerializeWithCheckboxes(c))
	}
	for _, cs := range n.ReferenceLocations {
		s.ReferenceLocations = append(s.ReferenceLocations, SerializedCallSite{
			CallSite: cs,
			Checked:  boolPtr(m.IsChecked(model.ReferenceKey(cs))),
		})
	}
	return s
}

// RestoreCheckboxStates loads the checked flags found in s into the model.
func (m *Model) RestoreCheckboxStates(s *SerializedNode) error {
	n, err := s.ToNode()
	if err != nil {
		return err
	}
	m.restore(s, n)
	return nil
}

func (m *Model) restore(s *SerializedNode, n *model.Node) {
	if s.Checked != nil && !n.IsComment() {
		m.checked[n.Key()] = *s.Checked
	}
	for i, c := range s.Children {
		m.restore(c, n.Children[i])
	}
	for _, cs := range s.ReferenceLocations {
		if cs.Checked != nil {
			m.checked[model.ReferenceKey(cs.CallSite)] = *cs.Checked
		}
	}
}

// ToNode converts s back into a node. Files without an explicit kind are
// accepted: the kind is inferred from the comment flag and the name.
func (s *SerializedNode) ToNode() (*model.Node, error) {
	n := s.Node
	n.Children = nil
	n.ReferenceLocations = nil
	switch {
	case n.Kind == "" && s.IsComment:
		n.Kind = model.KindComment
	case n.Kind == "" && n.Name == "":
		n.Kind = model.KindReference
	case n.Kind == "":
		n.Kind = model.KindDeclaration
	}
	switch n.Kind {
	case model.KindDeclaration, model.KindReference:
	case model.KindComment:
		if strings.TrimSpace(n.CommentText) == "" {
			return nil, fmt.Errorf("%w: comment without text", ErrInvalidImport)
		}
		if n.Name == "" {
			n.Name = "// " + n.CommentText
		}
	default:
		return nil, fmt.Errorf("%w: unknown node kind %q", ErrInvalidImport, n.Kind)
	}
	if n.Kind == model.KindDeclaration && n.Name == "" {
		return nil, fmt.Errorf("%w: declaration without a name", ErrInvalidImport)
	}
	for _, c := range s.Children {
		if c == nil {
			return nil, fmt.Errorf("%w: null child of %s", ErrInvalidImport, n.Label())
		}
		child, err := c.ToNode()
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	for _, cs := range s.ReferenceLocations {
		n.ReferenceLocations = append(n.ReferenceLocations, cs.CallSite)
	}
	return &n, nil
}

// ExportJSON writes every tree with its checkbox state.
func (m *Model) ExportJSON(w io.Writer, exportedAt time.Time) error {
	doc := exportDocument{
		ExportedAt: exportedAt.UTC().Format(time.RFC3339),
		Trees:      make([]*SerializedNode, 0, len(m.trees)),
	}
	for _, t := range m.trees {
		doc.Trees = append(doc.Trees, m.SerializeWithCheckboxes(t))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// ImportJSON appends the trees in r to the forest and restores their checkbox
// state. Roots already present are skipped. Nothing is imported when the file
// is malformed.
func (m *Model) ImportJSON(r io.Reader) (ImportResult, error) {
	var doc importDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if len(doc.Trees) == 0 || string(doc.Trees) == "null" {
		return ImportResult{}, fmt.Errorf("%w: missing trees array", ErrInvalidImport)
	}
	var serialized []*SerializedNode
	if err := json.Unmarshal(doc.Trees, &serialized); err != nil {
		return ImportResult{}, fmt.Errorf("%w: trees: %v", ErrInvalidImport, err)
	}

	nodes := make([]*model.Node, len(serialized))
	for i, s := range serialized {
		if s == nil {
			return ImportResult{}, fmt.Errorf("%w: tree %d is null", ErrInvalidImport, i)
		}
		n, err := s.ToNode()
		if err != nil {
			return ImportResult{}, fmt.Errorf("tree %d: %w", i, err)
		}
		nodes[i] = n
	}

	var res ImportResult
	for i, n := range nodes {
		if !m.AddCallTree(n) {
			res.Duplicates++
			continue
		}
		m.restore(serialized[i], n)
		res.Added++
	}
	if res.Added > 0 {
		recordMutation("import")
	}
	return res, nil
}

// ExportMarkdown renders the forest as nested checklists, one section per root.
func (m *Model) ExportMarkdown(w io.Writer, exportedAt time.Time) error {
	total := 0
	for _, t := range m.trees {
		total += t.Count()
	}

	var b strings.Builder
	b.WriteString("# Upstream call trees\n\n")
	fmt.Fprintf(&b, "Exported %s: %s trees, %s nodes\n",
		exportedAt.UTC().Format(time.RFC3339),
		humanize.Comma(int64(len(m.trees))),
		humanize.Comma(int64(total)),
	)
	for _, t := range m.trees {
		fmt.Fprintf(&b, "\n## %s\n\n", t.Label())
		if t.HTTPAttribute != "" {
			fmt.Fprintf(&b, "Entry point `%s`\n\n", t.HTTPAttribute)
		}
		fmt.Fprintf(&b, "%s\n\n", link(t.Label(), t.File, t.Line))
		m.writeMarkdown(&b, t.Children, t.ReferenceLocations, 0)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	return nil
}

func (m *Model) writeMarkdown(b *strings.Builder, children []*model.Node, refs []model.CallSite, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, cs := range refs {
		fmt.Fprintf(b, "%s- %s %s", indent, checkbox(m.IsChecked(model.ReferenceKey(cs))),
			link(cs.SourcePosition.String(), cs.File, cs.Line))
		if cs.ReferenceType != "" && cs.ReferenceType != model.RefCall {
			fmt.Fprintf(b, " _%s_", cs.ReferenceType)
		}
		b.WriteString("\n")
	}
	for _, n := range children {
		switch n.Kind {
		case model.KindComment:
			fmt.Fprintf(b, "%s- %s\n", indent, n.Name)
			continue
		case model.KindReference:
			fmt.Fprintf(b, "%s- %s %s\n", indent, checkbox(m.IsChecked(n.Key())), link(n.Label(), n.File, n.Line))
			continue
		}
		fmt.Fprintf(b, "%s- %s %s", indent, checkbox(m.IsChecked(n.Key())), link(n.Label(), n.File, n.Line))
		if n.HTTPAttribute != "" {
			fmt.Fprintf(b, " `%s`", n.HTTPAttribute)
		}
		b.WriteString("\n")
		m.writeMarkdown(b, n.Children, n.ReferenceLocations, depth+1)
	}
}

func checkbox(checked bool) string {
	if checked {
		return "[x]"
	}
	return "[ ]"
}

// link renders a file link; Markdown viewers expect 1-based line anchors.
func link(label, file string, line int) string {
	return fmt.Sprintf("[%s](%s#L%d)", label, file, line+1)
}

func boolPtr(b bool) *bool { return &b }
