package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jidohq/sessiond/internal/config"
	"github.com/jidohq/sessiond/internal/logger"
)

// loadConfig resolves process-wide config for a command, applying the
// --config, --workspace, and --debug persistent flags on top of whatever
// config.Load already layered from file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	workspace, _ := cmd.Flags().GetString("workspace")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Workspace.Root = workspace
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	logger.Setup(cfg.Log.Level)
	slog.Debug("configuration loaded", "workspace", cfg.Workspace.Root, "config_path", configPath)
	return cfg, nil
}
