package tree

import (
	"fmt"
	"slices"
	"strings"

	"github.com/abramin/upstream/internal/model"
)

// Direction is the way Move shifts nodes among their siblings.
type Direction int

const (
	Up Direction = iota
	Down
)

// ParseDirection accepts "up" or "down".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Indent makes each selected node the last child of its nearest preceding
// declaration sibling. Comments are never used as anchors. It returns the
// number of nodes moved.
func (m *Model) Indent(keys []string) (int, error) {
	sel, err := m.movable(keys)
	if err != nil {
		return 0, err
	}
	var anchors []string
	trees, moved := indentList(m.trees, sel, &anchors)
	if moved == 0 {
		return 0, ErrNoPrecedingSibling
	}
	m.trees = trees
	for _, k := range anchors {
		m.expanded[k] = true
	}
	recordMutation("indent")
	return moved, nil
}

func indentList(nodes []*model.Node, sel map[string]bool, anchors *[]string) ([]*model.Node, int) {
	if len(nodes) == 0 {
		return nodes, 0
	}
	out := make([]*model.Node, 0, len(nodes))
	moved := 0
	for _, n := range nodes {
		c := *n
		var k int
		c.Children, k = indentList(n.Children, sel, anchors)
		moved += k

		if sel[c.Key()] {
			// out holds fresh copies, so the anchor can be updated in place.
			if i := lastDeclaration(out); i >= 0 {
				out[i].Children = append(slices.Clip(out[i].Children), &c)
				*anchors = append(*anchors, out[i].Key())
				moved++
				continue
			}
		}
		out = append(out, &c)
	}
	return out, moved
}

func lastDeclaration(nodes []*model.Node) int {
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].IsDeclaration() {
			return i
		}
	}
	return -1
}

// Outdent moves each selected node out of its parent to sit right after it.
// Nested selections are resolved bottom-up and every node moves at most one
// level. It returns the number of nodes moved.
func (m *Model) Outdent(keys []string) (int, error) {
	sel, err := m.movable(keys)
	if err != nil {
		return 0, err
	}
	done := make(map[string]bool)
	moved := 0
	trees := rewrite(m.trees, func(c *model.Node) []*model.Node {
		var kept, lifted []*model.Node
		for _, ch := range c.Children {
			k := ch.Key()
			if sel[k] && !done[k] {
				done[k] = true
				lifted = append(lifted, ch)
				continue
			}
			kept = append(kept, ch)
		}
		if len(lifted) == 0 {
			return []*model.Node{c}
		}
		c.Children = kept
		moved += len(lifted)
		return append([]*model.Node{c}, lifted...)
	})
	if moved == 0 {
		return 0, ErrNoParent
	}
	m.trees = trees
	recordMutation("outdent")
	return moved, nil
}

// Move swaps each selected node with its neighbour in the given direction
// unless that neighbour is selected too, so a contiguous selection moves as a
// block. It returns the number of swaps.
func (m *Model) Move(keys []string, dir Direction) (int, error) {
	sel, err := m.movable(keys)
	if err != nil {
		return 0, err
	}
	trees, swaps := moveList(m.trees, sel, dir)
	if swaps == 0 {
		return 0, nil
	}
	m.trees = trees
	recordMutation("move")
	return swaps, nil
}

func moveList(nodes []*model.Node, sel map[string]bool, dir Direction) ([]*model.Node, int) {
	if len(nodes) == 0 {
		return nodes, 0
	}
	out := make([]*model.Node, len(nodes))
	swaps := 0
	for i, n := range nodes {
		c := *n
		var k int
		c.Children, k = moveList(n.Children, sel, dir)
		swaps += k
		out[i] = &c
	}
	selected := func(i int) bool { return sel[out[i].Key()] }
	switch dir {
	case Up:
		for i := 1; i < len(out); i++ {
			if selected(i) && !selected(i-1) {
				out[i], out[i-1] = out[i-1], out[i]
				swaps++
			}
		}
	case Down:
		for i := len(out) - 2; i >= 0; i-- {
			if selected(i) && !selected(i+1) {
				out[i], out[i+1] = out[i+1], out[i]
				swaps++
			}
		}
	}
	return out, swaps
}

// RemoveNode removes one node. Its children take its place.
func (m *Model) RemoveNode(key string) error {
	_, err := m.RemoveSelectedNodes([]string{key})
	return err
}

// RemoveSelectedNodes removes every node in keys, splicing each node's
// children into its place. A reference-location key removes that call site
// from its declaration. State for the removed keys is discarded.
func (m *Model) RemoveSelectedNodes(keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	sel := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := m.locate(k); !ok {
			return 0, notFound(k)
		}
		sel[k] = true
	}
	removed := 0
	trees := rewrite(m.trees, func(c *model.Node) []*model.Node {
		if len(c.ReferenceLocations) > 0 {
			refs := c.ReferenceLocations[:0:0]
			for _, cs := range c.ReferenceLocations {
				if sel[model.ReferenceKey(cs)] {
					removed++
					continue
				}
				refs = append(refs, cs)
			}
			c.ReferenceLocations = refs
		}
		if sel[c.Key()] {
			removed++
			return c.Children
		}
		return []*model.Node{c}
	})
	m.trees = trees
	for k := range sel {
		delete(m.checked, k)
		delete(m.selected, k)
		delete(m.expanded, k)
	}
	m.purge()
	recordMutation("remove")
	return removed, nil
}

// InsertCommentAbove inserts a comment immediately before the node with the
// given key, in whichever list holds it. It returns the comment's key.
func (m *Model) InsertCommentAbove(key, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyComment
	}
	t, ok := m.locate(key)
	if !ok {
		return "", notFound(key)
	}
	if t.refLocation {
		return "", fmt.Errorf("%w: comments go above declarations, not call sites", ErrInvalidTarget)
	}
	comment := model.NewComment(text, t.node.File, t.node.Line)
	if _, exists := m.locate(comment.Key()); exists {
		return "", ErrDuplicateComment
	}
	inserted := false
	m.trees = rewriteLists(m.trees, func(list []*model.Node) []*model.Node {
		if inserted {
			return list
		}
		i := slices.IndexFunc(list, func(n *model.Node) bool { return n.Key() == key })
		if i < 0 {
			return list
		}
		inserted = true
		return slices.Insert(slices.Clone(list), i, comment)
	})
	recordMutation("comment")
	return comment.Key(), nil
}

// EditComment replaces a comment's text and returns its new key. Only the
// first comment with key, in document order, is changed.
func (m *Model) EditComment(key, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyComment
	}
	t, ok := m.locate(key)
	if !ok {
		return "", notFound(key)
	}
	if !t.node.IsComment() {
		return "", ErrNotComment
	}
	edited := model.NewComment(text, t.node.File, t.node.Line)
	if edited.Key() != key {
		if _, exists := m.locate(edited.Key()); exists {
			return "", ErrDuplicateComment
		}
	}
	m.trees = rewriteComment(m.trees, key, edited)
	recordMutation("comment")
	return edited.Key(), nil
}

// DeleteComment removes the first comment with key, in document order. It is
// the only operation that deletes one.
func (m *Model) DeleteComment(key string) error {
	t, ok := m.locate(key)
	if !ok {
		return notFound(key)
	}
	if !t.node.IsComment() {
		return ErrNotComment
	}
	m.trees = rewriteComment(m.trees, key, nil)
	recordMutation("comment")
	return nil
}

// ReplaceChildren swaps the callers of a declaration for children, keeping
// any comments already attached to it.
func (m *Model) ReplaceChildren(key string, children []*model.Node) error {
	t, ok := m.locate(key)
	if !ok {
		return notFound(key)
	}
	if !t.node.IsDeclaration() {
		return ErrInvalidTarget
	}
	m.trees = rewrite(m.trees, func(c *model.Node) []*model.Node {
		if c.IsDeclaration() && c.Key() == key {
			var next []*model.Node
			for _, ch := range c.Children {
				if ch.IsComment() {
					next = append(next, ch)
				}
			}
			c.Children = append(next, children...)
			m.expanded[key] = true
		}
		return []*model.Node{c}
	})
	m.purge()
	recordMutation("replace")
	return nil
}

// movable validates keys for structural moves. Reference locations are not
// list entries and cannot be moved.
func (m *Model) movable(keys []string) (map[string]bool, error) {
	sel := make(map[string]bool, len(keys))
	for _, k := range keys {
		t, ok := m.locate(k)
		if !ok {
			return nil, notFound(k)
		}
		if t.refLocation {
			return nil, fmt.Errorf("%w: call sites cannot be moved", ErrInvalidTarget)
		}
		sel[k] = true
	}
	return sel, nil
}

// rewrite rebuilds nodes bottom-up. fn receives a fresh copy whose children
// are already rewritten and returns the entries that replace it.
func rewrite(nodes []*model.Node, fn func(c *model.Node) []*model.Node) []*model.Node {
	if len(nodes) == 0 {
		return nodes
	}
	out := make([]*model.Node, 0, len(nodes))
	for _, n := range nodes {
		c := *n
		c.Children = rewrite(n.Children, fn)
		out = append(out, fn(&c)...)
	}
	return out
}

// rewriteComment replaces the first comment with key by repl, or drops it
// when repl is nil.
func rewriteComment(nodes []*model.Node, key string, repl *model.Node) []*model.Node {
	done := false
	return rewriteLists(nodes, func(list []*model.Node) []*model.Node {
		if done {
			return list
		}
		i := slices.IndexFunc(list, func(n *model.Node) bool { return n.IsComment() && n.Key() == key })
		if i < 0 {
			return list
		}
		done = true
		if repl == nil {
			return slices.Delete(slices.Clone(list), i, i+1)
		}
		out := slices.Clone(list)
		out[i] = repl
		return out
	})
}

// rewriteLists applies fn to every sibling list, top-down in document order.
func rewriteLists(nodes []*model.Node, fn func(list []*model.Node) []*model.Node) []*model.Node {
	list := fn(nodes)
	out := make([]*model.Node, len(list))
	for i, n := range list {
		if len(n.Children) == 0 {
			out[i] = n
			continue
		}
		c := *n
		c.Children = rewriteLists(n.Children, fn)
		out[i] = &c
	}
	return out
}
