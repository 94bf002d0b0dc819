package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abramin/upstream/internal/search"
	"github.com/abramin/upstream/internal/tree"
	"github.com/abramin/upstream/internal/workspace"
)

var searchExhaustive bool

var searchCmd = &cobra.Command{
	Use:   "search FILE:LINE[:COL]",
	Short: "Build the upstream call tree of the method or class at a position",
	Long: `Resolve the method (or class) declared at, or enclosing, FILE:LINE and
walk its callers upward until entry points or uncalled code.

A class runs an impact analysis instead: the tree lists every method that
instantiates the class, takes it as a parameter or names it in an interface.

Callers come from the language server when one is configured. --exhaustive
also runs the textual file scan, which finds calls the server misses.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, line, err := parsePosition(args[0])
		if err != nil {
			return err
		}
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			fmt.Printf("Searching upstream from %s:%d\n", file, line+1)
			res, err := ws.Search(ctx, file, line, searchExhaustive, printSummary)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return showTree(ctx, ws, res)
		})
	},
}

var fromRefForce bool

var fromRefCmd = &cobra.Command{
	Use:   "from-ref KEY",
	Short: "Start a new tree at the method enclosing a call site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			res, err := ws.SearchFromReference(ctx, args[0], fromRefForce, printSummary)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return showTree(ctx, ws, res)
		})
	},
}

var exhaustiveCmd = &cobra.Command{
	Use:   "exhaustive KEY",
	Short: "Search one declaration again with the file scan and replace its callers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			if _, err := ws.Exhaustive(ctx, args[0], printSummary); err != nil {
				return fmt.Errorf("exhaustive search failed: %w", err)
			}
			return nil
		})
	},
}

var addLineCmd = &cobra.Command{
	Use:   "add-line FILE:LINE",
	Short: "Add the declaration at a position as a root without searching",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, line, err := parsePosition(args[0])
		if err != nil {
			return err
		}
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			n, err := ws.AddLine(ctx, file, line)
			if err != nil {
				return err
			}
			fmt.Printf("Added %s\n", n.Label())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(searchCmd, fromRefCmd, exhaustiveCmd, addLineCmd)
	searchCmd.Flags().BoolVarP(&searchExhaustive, "exhaustive", "e", false, "also run the textual file scan")
	fromRefCmd.Flags().BoolVarP(&fromRefForce, "exhaustive", "e", false, "also run the textual file scan")
}

func printSummary(s search.Summary) {
	state := "Search complete"
	if s.Cancelled {
		state = "Search cancelled, keeping partial results"
	}
	fmt.Println()
	fmt.Printf("%s!\n", state)
	fmt.Printf("  Symbol:     %s\n", s.Symbol)
	fmt.Printf("  Methods:    %d\n", s.Methods)
	fmt.Printf("  References: %d\n", s.References)
	if s.Strategy != "" {
		fmt.Printf("  Strategy:   %s\n", s.Strategy)
	}
	fmt.Printf("  Duration:   %s\n", s.Duration.Round(time.Millisecond))
	fmt.Println()
}

// showTree prints the tree a search just produced.
func showTree(ctx context.Context, ws *workspace.Workspace, res *search.Result) error {
	key := res.Tree.Key()
	var rows []tree.Row
	if err := ws.View(context.WithoutCancel(ctx), func(m *tree.Model) {
		depth := -1
		for _, r := range m.Rows(false) {
			switch {
			case r.Depth == 0 && r.Key == key:
				depth = 0
			case r.Depth == 0:
				depth = -1
			}
			if depth == 0 {
				rows = append(rows, r)
			}
		}
	}); err != nil {
		return err
	}
	renderForest(cmdOut, ws, rows, renderOptions{keys: verbose})
	return nil
}
