package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abramin/upstream/internal/server"
	"github.com/abramin/upstream/internal/workspace"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the call trees over an HTTP JSON API",
	Long: `Start a local HTTP server exposing the call trees and every editing
operation as a JSON API under /api, with Prometheus metrics at /metrics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace.Workspace) error {
			srv := server.New(ws, server.Config{Port: port, Debug: verbose, Logger: logger})
			fmt.Printf("Serving %s on http://localhost:%d\n", ws.Root(), port)
			return srv.Start(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "port to listen on (default from server.port)")
}
