package tree

import "github.com/abramin/upstream/internal/model"

// Row is one line of the flattened forest as presented to a user.
type Row struct {
	Key           string              `json:"key"`
	Depth         int                 `json:"depth"`
	Kind          model.NodeKind      `json:"kind"`
	Label         string              `json:"label"`
	File          string              `json:"file,omitempty"`
	Line          int                 `json:"line"`
	HTTPAttribute string              `json:"httpAttribute,omitempty"`
	Layer         string              `json:"layer,omitempty"`
	ReferenceType model.ReferenceType `json:"referenceType,omitempty"`
	HasChildren   bool                `json:"hasChildren"`
	Checked       bool                `json:"checked"`
	Expanded      bool                `json:"expanded"`
	Selected      bool                `json:"selected"`
}

// Rows flattens the forest in display order: a declaration's reference
// locations come before its children. With onlyExpanded, the contents of
// collapsed nodes are left out; roots are always listed.
func (m *Model) Rows(onlyExpanded bool) []Row {
	var rows []Row
	var visit func(nodes []*model.Node, depth int)
	visit = func(nodes []*model.Node, depth int) {
		for _, n := range nodes {
			key := n.Key()
			rows = append(rows, Row{
				Key:           key,
				Depth:         depth,
				Kind:          n.Kind,
				Label:         n.Label(),
				File:          n.File,
				Line:          n.Line,
				HTTPAttribute: n.HTTPAttribute,
				Layer:         n.Layer,
				ReferenceType: n.ReferenceType,
				HasChildren:   len(n.Children)+len(n.ReferenceLocations) > 0,
				Checked:       m.IsChecked(key),
				Expanded:      m.IsExpanded(key),
				Selected:      m.IsSelected(key),
			})
			if onlyExpanded && !m.IsExpanded(key) {
				continue
			}
			for _, cs := range n.ReferenceLocations {
				ref := model.NewReference(cs)
				rk := ref.Key()
				rows = append(rows, Row{
					Key:           rk,
					Depth:         depth + 1,
					Kind:          model.KindReference,
					Label:         ref.Label(),
					File:          cs.File,
					Line:          cs.Line,
					ReferenceType: cs.ReferenceType,
					Checked:       m.IsChecked(rk),
					Selected:      m.IsSelected(rk),
				})
			}
			visit(n.Children, depth+1)
		}
	}
	visit(m.trees, 0)
	return rows
}
