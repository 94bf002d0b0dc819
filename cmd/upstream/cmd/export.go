package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/abramin/upstream/internal/tree"
	"github.com/abramin/upstream/internal/workspace"
)

var exportCmd = &cobra.Command{
	Use:   "export json|md [FILE]",
	Short: "Export the call trees as JSON or Markdown",
	Long: `Export the call trees with their checkbox states.

json writes a document that import reads back (conventionally named
*` + tree.FileExtension + `). md writes nested checklists with file links.
Without FILE the export goes to stdout.`,
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"json", "md"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var write func(*tree.Model, io.Writer, time.Time) error
		switch args[0] {
		case "json":
			write = (*tree.Model).ExportJSON
		case "md", "markdown":
			write = (*tree.Model).ExportMarkdown
		default:
			return fmt.Errorf("unknown export format %q (want json or md)", args[0])
		}

		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			var buf bytes.Buffer
			var err error
			now := time.Now()
			if viewErr := ws.View(ctx, func(m *tree.Model) { err = write(m, &buf, now) }); viewErr != nil {
				return viewErr
			}
			if err != nil {
				return err
			}
			if len(args) == 1 {
				_, err := cmdOut.Write(buf.Bytes())
				return err
			}
			if err := os.WriteFile(args[1], buf.Bytes(), 0644); err != nil {
				return fmt.Errorf("writing %s: %w", args[1], err)
			}
			fmt.Printf("Exported to %s\n", args[1])
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Append the call trees of a JSON export",
	Long: `Append the call trees of a JSON export with their checkbox states.
Roots that already exist are skipped. A malformed file imports nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return update(cmd, func(m *tree.Model) (string, error) {
			res, err := m.ImportJSON(bytes.NewReader(data))
			if err != nil {
				return "", err
			}
			msg := fmt.Sprintf("Imported %d trees", res.Added)
			if res.Duplicates > 0 {
				msg += fmt.Sprintf(", skipped %d already present", res.Duplicates)
			}
			return msg, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
}
