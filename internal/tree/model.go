// Package tree owns the forest of call trees and the per-key state attached to
// it: checkbox, selection and expansion. Every mutation builds new slices
// before committing, so a failed operation leaves the forest untouched.
//
// A Model is not safe for concurrent use. Share it through a Session.
package tree

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/agext/levenshtein"

	"github.com/abramin/upstream/internal/model"
)

// Options configures a Model.
type Options struct {
	Logger       *slog.Logger
	VerbosePrune bool // log every node deleted by prune
}

// Model is the forest plus its state maps.
type Model struct {
	trees    []*model.Node
	checked  map[string]bool
	selected map[string]bool
	expanded map[string]bool

	verbosePrune bool
	logger       *slog.Logger
}

// New creates an empty model.
func New(opts Options) *Model {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		checked:      make(map[string]bool),
		selected:     make(map[string]bool),
		expanded:     make(map[string]bool),
		verbosePrune: opts.VerbosePrune,
		logger:       logger,
	}
}

// Trees returns the forest roots in display order. The nodes must not be
// modified by the caller.
func (m *Model) Trees() []*model.Node { return m.trees }

// Len returns the number of roots.
func (m *Model) Len() int { return len(m.trees) }

// AddCallTree appends n unless a root with the same key already exists.
func (m *Model) AddCallTree(n *model.Node) bool {
	key := n.Key()
	for _, t := range m.trees {
		if t.Key() == key {
			return false
		}
	}
	m.trees = append(slices.Clip(m.trees), n)
	recordMutation("add")
	return true
}

// AddBareItem adds a declaration as a root with no callers.
func (m *Model) AddBareItem(n *model.Node) bool {
	bare := *n
	bare.Children = nil
	bare.ReferenceLocations = nil
	return m.AddCallTree(&bare)
}

// ReplaceLastTree overwrites the most recently added root, or adds n when the
// forest is empty.
func (m *Model) ReplaceLastTree(n *model.Node) {
	if len(m.trees) == 0 {
		m.trees = []*model.Node{n}
	} else {
		trees := slices.Clone(m.trees)
		trees[len(trees)-1] = n
		m.trees = trees
	}
	recordMutation("replace")
}

// ReplaceTree overwrites the root whose key is key.
func (m *Model) ReplaceTree(key string, n *model.Node) error {
	i := slices.IndexFunc(m.trees, func(t *model.Node) bool { return t.Key() == key })
	if i < 0 {
		return notFound(key)
	}
	trees := slices.Clone(m.trees)
	trees[i] = n
	m.trees = trees
	recordMutation("replace")
	return nil
}

// IsChecked reports the checkbox state of key. Keys without an entry are checked.
func (m *Model) IsChecked(key string) bool {
	v, ok := m.checked[key]
	return !ok || v
}

// IsSelected reports whether key is selected.
func (m *Model) IsSelected(key string) bool { return m.selected[key] }

// IsExpanded reports whether key is expanded.
func (m *Model) IsExpanded(key string) bool { return m.expanded[key] }

// SetChecked sets the state of key and every descendant. Checking a node also
// checks its ancestors.
func (m *Model) SetChecked(key string, checked bool) error {
	t, ok := m.locate(key)
	if !ok {
		return notFound(key)
	}
	if t.node.IsComment() {
		return ErrInvalidTarget
	}
	model.Walk([]*model.Node{t.node}, func(n *model.Node, _ int) bool {
		if n.IsComment() {
			return false
		}
		m.checked[n.Key()] = checked
		for _, cs := range n.ReferenceLocations {
			m.checked[model.ReferenceKey(cs)] = checked
		}
		return true
	})
	if checked {
		for _, a := range t.ancestors {
			m.checked[a.Key()] = true
		}
	}
	return nil
}

// NormalizeCheckStates marks every node checked when any of its descendants
// is checked. It only ever adds true entries and returns how many it added.
func (m *Model) NormalizeCheckStates() int {
	changed := 0
	for _, t := range m.trees {
		m.normalize(t, &changed)
	}
	return changed
}

// normalize visits every child before deciding, so no sibling is skipped.
func (m *Model) normalize(n *model.Node, changed *int) bool {
	if n.IsComment() {
		return false
	}
	descendant := false
	for _, c := range n.Children {
		if m.normalize(c, changed) {
			descendant = true
		}
	}
	for _, cs := range n.ReferenceLocations {
		if m.IsChecked(model.ReferenceKey(cs)) {
			descendant = true
		}
	}
	key := n.Key()
	if descendant && !m.IsChecked(key) {
		m.checked[key] = true
		*changed++
	}
	return m.IsChecked(key)
}

// PruneUncheckedItems normalizes, then deletes every unchecked node with its
// whole subtree. It returns the flattened number of deleted nodes.
func (m *Model) PruneUncheckedItems() int {
	m.NormalizeCheckStates()
	trees, removed := m.prune(m.trees, 0)
	if removed == 0 {
		return 0
	}
	m.trees = trees
	m.purge()
	prunedNodes.Add(float64(removed))
	recordMutation("prune")
	return removed
}

func (m *Model) prune(nodes []*model.Node, depth int) ([]*model.Node, int) {
	if len(nodes) == 0 {
		return nil, 0
	}
	out := make([]*model.Node, 0, len(nodes))
	removed := 0
	for _, n := range nodes {
		if !n.IsComment() && !m.IsChecked(n.Key()) {
			removed += n.Count()
			if m.verbosePrune {
				m.logger.Info("prune: deleting subtree",
					slog.String("key", n.Key()),
					slog.Int("depth", depth),
					slog.Int("nodes", n.Count()),
				)
			}
			continue
		}
		c := *n
		var r int
		c.Children, r = m.prune(n.Children, depth+1)
		removed += r

		c.ReferenceLocations = nil
		for _, cs := range n.ReferenceLocations {
			if !m.IsChecked(model.ReferenceKey(cs)) {
				removed++
				if m.verbosePrune {
					m.logger.Info("prune: deleting reference",
						slog.String("key", model.ReferenceKey(cs)),
						slog.Int("depth", depth+1),
					)
				}
				continue
			}
			c.ReferenceLocations = append(c.ReferenceLocations, cs)
		}
		out = append(out, &c)
	}
	return out, removed
}

// SetExpanded records the expansion state of key.
func (m *Model) SetExpanded(key string, expanded bool) error {
	if _, ok := m.locate(key); !ok {
		return notFound(key)
	}
	if expanded {
		m.expanded[key] = true
	} else {
		delete(m.expanded, key)
	}
	return nil
}

// ExpandAll expands every declaration that has children or reference
// locations and returns how many are now expanded.
func (m *Model) ExpandAll() int {
	model.Walk(m.trees, func(n *model.Node, _ int) bool {
		if n.IsDeclaration() && (len(n.Children) > 0 || len(n.ReferenceLocations) > 0) {
			m.expanded[n.Key()] = true
		}
		return true
	})
	return len(m.expanded)
}

// Select replaces the selection with keys.
func (m *Model) Select(keys []string) error {
	for _, k := range keys {
		if _, ok := m.locate(k); !ok {
			return notFound(k)
		}
	}
	clear(m.selected)
	for _, k := range keys {
		m.selected[k] = true
	}
	return nil
}

// Selected returns the selected keys in sorted order.
func (m *Model) Selected() []string {
	return slices.Sorted(maps.Keys(m.selected))
}

// Clear drops every tree and all state.
func (m *Model) Clear() {
	m.trees = nil
	clear(m.checked)
	clear(m.selected)
	clear(m.expanded)
	recordMutation("clear")
}

// Find returns a copy of the node with the given key. Reference locations are
// returned as reference nodes.
func (m *Model) Find(key string) (*model.Node, bool) {
	t, ok := m.locate(key)
	if !ok {
		return nil, false
	}
	return t.node.Clone(), true
}

// Suggest returns the existing key closest to key, for not-found feedback.
func (m *Model) Suggest(key string) (string, bool) {
	best, bestDist := "", -1
	for k := range model.Keys(m.trees) {
		d := levenshtein.Distance(key, k, nil)
		if bestDist < 0 || d < bestDist || (d == bestDist && k < best) {
			best, bestDist = k, d
		}
	}
	if bestDist < 0 || bestDist > len(key)/2 {
		return "", false
	}
	return best, true
}

// State is a detached copy of the model, used for persistence.
type State struct {
	Trees    []*model.Node
	Checked  map[string]bool
	Selected []string
	Expanded []string
}

// Snapshot returns a deep copy of the forest and its state.
func (m *Model) Snapshot() State {
	trees := make([]*model.Node, len(m.trees))
	for i, t := range m.trees {
		trees[i] = t.Clone()
	}
	return State{
		Trees:    trees,
		Checked:  maps.Clone(m.checked),
		Selected: m.Selected(),
		Expanded: slices.Sorted(maps.Keys(m.expanded)),
	}
}

// Restore replaces the model's contents with s.
func (m *Model) Restore(s State) {
	m.trees = s.Trees
	m.checked = make(map[string]bool, len(s.Checked))
	maps.Copy(m.checked, s.Checked)
	m.selected = make(map[string]bool, len(s.Selected))
	for _, k := range s.Selected {
		m.selected[k] = true
	}
	m.expanded = make(map[string]bool, len(s.Expanded))
	for _, k := range s.Expanded {
		m.expanded[k] = true
	}
}

// purge drops state for keys that no longer exist anywhere in the forest.
func (m *Model) purge() {
	live := model.Keys(m.trees)
	for _, state := range []map[string]bool{m.checked, m.selected, m.expanded} {
		maps.DeleteFunc(state, func(k string, _ bool) bool {
			_, ok := live[k]
			return !ok
		})
	}
}

// target is a located node. Reference locations come back as reference nodes
// with refLocation set and their declaring node as the last ancestor.
type target struct {
	node        *model.Node
	ancestors   []*model.Node
	refLocation bool
}

func (m *Model) locate(key string) (target, bool) {
	return locateIn(m.trees, key, nil)
}

func locateIn(nodes []*model.Node, key string, path []*model.Node) (target, bool) {
	for _, n := range nodes {
		if n.Key() == key {
			return target{node: n, ancestors: slices.Clone(path)}, true
		}
		for _, cs := range n.ReferenceLocations {
			if model.ReferenceKey(cs) == key {
				anc := append(slices.Clone(path), n)
				return target{node: model.NewReference(cs), ancestors: anc, refLocation: true}, true
			}
		}
		if t, ok := locateIn(n.Children, key, append(path, n)); ok {
			return t, true
		}
	}
	return target{}, false
}
