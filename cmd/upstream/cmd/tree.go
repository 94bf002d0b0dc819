package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abramin/upstream/internal/tree"
	"github.com/abramin/upstream/internal/workspace"
)

var (
	showKeys      bool
	showCollapsed bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the call trees",
	Long: `Print every call tree as an indented checklist. Reference locations are
listed under the method that contains them, before its callers.

--keys prints the identity key of every line; the editing commands take
these keys as arguments.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			var rows []tree.Row
			if err := ws.View(ctx, func(m *tree.Model) { rows = m.Rows(showCollapsed) }); err != nil {
				return err
			}
			renderForest(cmdOut, ws, rows, renderOptions{keys: showKeys, onlyExpanded: showCollapsed})
			return nil
		})
	},
}

var expandAllCmd = &cobra.Command{
	Use:   "expand-all",
	Short: "Expand every node with callers or call sites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return update(cmd, func(m *tree.Model) (string, error) {
			return fmt.Sprintf("%d nodes expanded", m.ExpandAll()), nil
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check KEY...",
	Short: "Check nodes, their descendants and their ancestors",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setChecked(cmd, args, true)
	},
}

var uncheckCmd = &cobra.Command{
	Use:   "uncheck KEY...",
	Short: "Uncheck nodes and their descendants; prune removes them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setChecked(cmd, args, false)
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete every unchecked node with its subtree",
	Long: `Delete every unchecked node with its subtree. A node with at least one
checked descendant is checked first, so nothing checked is ever lost.

Set prune.verbose (or UPSTREAM_VERBOSE_PRUNE) to log each deletion.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return update(cmd, func(m *tree.Model) (string, error) {
			return fmt.Sprintf("Pruned %d nodes", m.PruneUncheckedItems()), nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every call tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			if err := ws.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("Cleared all call trees")
			return nil
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove KEY...",
	Short: "Remove nodes; their children move up to take their place",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editKeys(cmd, args, "removed", (*tree.Model).RemoveSelectedNodes)
	},
}

var indentCmd = &cobra.Command{
	Use:   "indent KEY...",
	Short: "Make nodes children of the declaration above them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editKeys(cmd, args, "indented", (*tree.Model).Indent)
	},
}

var outdentCmd = &cobra.Command{
	Use:   "outdent KEY...",
	Short: "Move nodes out of their parent to sit right after it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editKeys(cmd, args, "outdented", (*tree.Model).Outdent)
	},
}

var moveCmd = &cobra.Command{
	Use:   "move up|down KEY...",
	Short: "Swap nodes with their neighbour among their siblings",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := tree.ParseDirection(args[0])
		if err != nil {
			return err
		}
		return editKeys(cmd, args[1:], "moved", func(m *tree.Model, keys []string) (int, error) {
			return m.Move(keys, dir)
		})
	},
}

func init() {
	rootCmd.AddCommand(showCmd, expandAllCmd, checkCmd, uncheckCmd, pruneCmd, clearCmd,
		removeCmd, indentCmd, outdentCmd, moveCmd)
	showCmd.Flags().BoolVarP(&showKeys, "keys", "k", false, "print node keys")
	showCmd.Flags().BoolVar(&showCollapsed, "collapsed", false, "hide the contents of collapsed nodes")
}

// update applies fn to the forest, saves and prints the returned message.
func update(cmd *cobra.Command, fn func(m *tree.Model) (string, error)) error {
	return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
		var msg string
		err := ws.Update(ctx, func(m *tree.Model) error {
			var err error
			msg, err = fn(m)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	})
}

func setChecked(cmd *cobra.Command, keys []string, checked bool) error {
	return update(cmd, func(m *tree.Model) (string, error) {
		if err := workspace.RequireKeys(m, keys); err != nil {
			return "", err
		}
		for _, k := range keys {
			if err := m.SetChecked(k, checked); err != nil {
				return "", fmt.Errorf("%s: %w", k, err)
			}
		}
		state := "Checked"
		if !checked {
			state = "Unchecked"
		}
		return fmt.Sprintf("%s %d nodes", state, len(keys)), nil
	})
}

func editKeys(cmd *cobra.Command, keys []string, verb string, op func(*tree.Model, []string) (int, error)) error {
	return update(cmd, func(m *tree.Model) (string, error) {
		if err := workspace.RequireKeys(m, keys); err != nil {
			return "", err
		}
		n, err := op(m, keys)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d nodes %s", n, verb), nil
	})
}
