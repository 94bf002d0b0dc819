package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/abramin/upstream/internal/model"
	"github.com/abramin/upstream/internal/tree"
	"github.com/abramin/upstream/internal/workspace"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#58a6ff"))
	rootStyle    = lipgloss.NewStyle().Bold(true)
	routeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#3fb950"))
	layerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#bc8cff"))
	commentStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#8b949e"))
	siteStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
	keyStyle     = lipgloss.NewStyle().Faint(true)
	selStyle     = lipgloss.NewStyle().Reverse(true)
)

type renderOptions struct {
	keys         bool // print identity keys, the handles taken by the editing commands
	onlyExpanded bool
}

// renderForest prints the forest as an indented checklist.
func renderForest(w io.Writer, ws *workspace.Workspace, rows []tree.Row, opts renderOptions) {
	roots, nodes := 0, 0
	for _, r := range rows {
		if r.Depth == 0 {
			roots++
		}
		if r.Kind != model.KindComment {
			nodes++
		}
	}
	if roots == 0 {
		fmt.Fprintln(w, "No call trees. Start one with: upstream search FILE:LINE")
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s trees, %s nodes", humanize.Comma(int64(roots)), humanize.Comma(int64(nodes)))))
	for _, r := range rows {
		fmt.Fprintln(w, renderRow(ws, r, opts))
	}
}

func renderRow(ws *workspace.Workspace, r tree.Row, opts renderOptions) string {
	var b strings.Builder
	b.WriteString(strings.Repeat("  ", r.Depth))

	switch r.Kind {
	case model.KindComment:
		b.WriteString(commentStyle.Render(r.Label))
	case model.KindReference:
		b.WriteString(checkbox(r.Checked))
		b.WriteString(" ")
		label := fmt.Sprintf("%s:%d", displayPath(ws, r.File), r.Line+1)
		if r.ReferenceType != "" && r.ReferenceType != model.RefCall {
			label += " (" + string(r.ReferenceType) + ")"
		}
		b.WriteString(siteStyle.Render(label))
	default:
		b.WriteString(checkbox(r.Checked))
		b.WriteString(" ")
		if r.HasChildren {
			if r.Expanded || !opts.onlyExpanded {
				b.WriteString("▾ ")
			} else {
				b.WriteString("▸ ")
			}
		}
		label := r.Label
		if r.Depth == 0 {
			label = rootStyle.Render(label)
		}
		b.WriteString(label)
		b.WriteString(siteStyle.Render(fmt.Sprintf("  %s:%d", displayPath(ws, r.File), r.Line+1)))
		if r.HTTPAttribute != "" {
			b.WriteString(" " + routeStyle.Render(r.HTTPAttribute))
		}
		if r.Layer != "" {
			b.WriteString(" " + layerStyle.Render("["+r.Layer+"]"))
		}
	}

	line := b.String()
	if r.Selected {
		line = selStyle.Render(line)
	}
	if opts.keys {
		line += "  " + keyStyle.Render(r.Key)
	}
	return line
}

func checkbox(checked bool) string {
	if checked {
		return "[x]"
	}
	return "[ ]"
}
