package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/mcptools"
	"github.com/dyluth/patchbay/internal/printer"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the automation tools over MCP on stdio",
	Long: `Serve the patchbay automation tools to an MCP client over stdin and
stdout. Every tool call goes through the HTTP API of a running server.

Logs go to stderr; stdout carries only the protocol.

Example client configuration:
  {"command": "patchbay", "args": ["mcp", "--server", "http://localhost:3000"]}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newClient()
		if err != nil {
			return err
		}
		tools := mcptools.NewTools(c, cfg.Capture, newLogger())
		if err := mcptools.Serve(tools); err != nil {
			return printer.FromError("mcp server stopped", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
