package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jidohq/sessiond/internal/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session engine as a long-running process",
	Long: `serve starts the session registry's idle-reclamation loop and keeps
the process alive so an external editor front end can attach sessions
against it over its own transport, until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Workspace.Root == "" {
		return fmt.Errorf("workspace root required: set workspace.root in config or pass --workspace")
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Registry.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("session engine serving", "workspace", cfg.Workspace.Root)
	<-sigChan
	slog.Info("shutting down")

	eng.Registry.Stop()
	cancel()
	if err := eng.Close(); err != nil {
		slog.Warn("error closing engine", "error", err)
	}

	return nil
}
