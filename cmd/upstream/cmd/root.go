package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abramin/upstream/internal/config"
	"github.com/abramin/upstream/internal/workspace"
)

var (
	cfgFile    string
	projectDir string
	verbose    bool
	cfg        *config.Config
	logger     *slog.Logger

	cmdOut io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "upstream",
	Short: "upstream - Explore who calls a method, up to the entry points",
	Long: `upstream walks a C# code base upward from a method or class and builds
call trees of every caller, up to HTTP endpoints or code nobody calls.

Trees are kept in .upstream/session.db between runs. Prune what does not
matter, annotate with comments, and export the result as JSON or Markdown.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		var err error
		cfg, err = loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

// Execute runs the root command. An interrupt cancels the running command;
// a cancelled search keeps what it found so far.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <dir>/upstream.yaml)")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "project root")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.LoadFromDir(projectDir)
	}
	if err := config.LoadDotEnv(projectDir); err != nil {
		return nil, err
	}
	c, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// withWorkspace opens the project, runs fn and closes it again.
func withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, ws *workspace.Workspace) error) error {
	ctx := cmd.Context()
	ws, err := workspace.Open(ctx, cfg, projectDir, workspace.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("opening %s: %w", projectDir, err)
	}
	runErr := fn(ctx, ws)
	if err := ws.Close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// displayPath shortens file paths under the project root for output.
func displayPath(ws *workspace.Workspace, file string) string {
	if rel, err := filepath.Rel(ws.Root(), file); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return file
}
