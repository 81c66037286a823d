package cmd

import (
	"log/slog"

	"github.com/jonbmost/acquisition-assistant/internal/mcpserver"
	"github.com/jonbmost/acquisition-assistant/internal/signal"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Model Context Protocol access to the knowledge base",
	Long: `Expose the acquisition knowledge base to MCP clients.

The server offers the repository templates as resources plus the
search_knowledge_base, get_template, get_far_guidance and list_templates
tools.

Examples:
  acqassist mcp serve
  claude mcp add acqassist -- acqassist mcp serve`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the knowledge base over stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCPServe,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpServeCmd)
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.Shutdown(cmd.Context())
	defer stop()

	// stdout carries the protocol; uploads are not needed here.
	kb, err := loadKnowledge(ctx, cfg, nil, slog.Default())
	if err != nil {
		return err
	}
	return mcpserver.New(kb, Version, slog.Default()).RunStdio(ctx)
}
