package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "Run the markdown document session engine",
	Long: `sessiond hosts session-scoped markdown document editing: loading,
editing, rendering, undo/redo, and crash recovery. It exposes the engine
as a long-running process (serve) or as one-shot diagnostics (check) for
an external editor front end to drive over its own transport.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: built-in defaults + SESSIOND_ environment variables)")
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "workspace root (overrides workspace.root in config)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
}
