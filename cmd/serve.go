package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agentic-research/classmap/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the database's classes and instances as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, log, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		log.Info().Str("version", Version).Msg("serving MCP on stdio")
		return mcpserver.New(eng, Version).ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
