package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abramin/upstream/internal/tree"
	"github.com/abramin/upstream/internal/workspace"
)

var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Annotate call trees with comments",
}

var commentAddCmd = &cobra.Command{
	Use:   "add KEY TEXT...",
	Short: "Insert a comment above a node",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		return update(cmd, func(m *tree.Model) (string, error) {
			if err := workspace.RequireKeys(m, args[:1]); err != nil {
				return "", err
			}
			key, err := m.InsertCommentAbove(args[0], text)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Added comment %s", key), nil
		})
	},
}

var commentEditCmd = &cobra.Command{
	Use:   "edit KEY TEXT...",
	Short: "Replace the text of a comment",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		return update(cmd, func(m *tree.Model) (string, error) {
			if err := workspace.RequireKeys(m, args[:1]); err != nil {
				return "", err
			}
			key, err := m.EditComment(args[0], text)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Updated comment %s", key), nil
		})
	},
}

var commentDeleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Delete a comment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return update(cmd, func(m *tree.Model) (string, error) {
			if err := workspace.RequireKeys(m, args); err != nil {
				return "", err
			}
			if err := m.DeleteComment(args[0]); err != nil {
				return "", err
			}
			return "Deleted comment", nil
		})
	},
}

func init() {
	rootCmd.AddCommand(commentCmd)
	commentCmd.AddCommand(commentAddCmd, commentEditCmd, commentDeleteCmd)
}
