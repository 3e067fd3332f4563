package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jidohq/sessiond/internal/engine"
	"github.com/jidohq/sessiond/internal/errs"
	"github.com/jidohq/sessiond/internal/session"
)

var checkCmd = &cobra.Command{
	Use:   "check <path>",
	Short: "Load a document through the session engine and report its state",
	Long: `check exercises the session engine's load and render commands
against a single document outside of any long-running editor connection,
useful for verifying frontmatter parses, the safety scan passes, and the
renderer produces a preview before wiring a real client.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Bool("render", false, "also render the document synchronously")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close()

	path := args[0]
	_, sessionID, _ := eng.Registry.EnsureSessionByPath(path)
	sess, _ := eng.Registry.Get(sessionID)

	loadRes := sess.Load(session.LoadOptions{Path: path})
	if loadRes.Status != errs.StatusOK {
		return fmt.Errorf("load failed: %s", loadRes.Err.Error())
	}
	snap := sess.Describe()
	fmt.Printf("session:   %s\n", sessionID)
	fmt.Printf("path:      %s\n", snap.Document.Path)
	fmt.Printf("schema:    %s\n", snap.Document.Schema)
	fmt.Printf("revision:  %d\n", snap.Document.Revision)
	fmt.Printf("dirty:     %v\n", snap.Dirty)
	fmt.Printf("frontmatter keys: %d\n", len(snap.Document.Frontmatter))
	fmt.Printf("body bytes: %d\n", len(snap.Document.Body))

	if render, _ := cmd.Flags().GetBool("render"); render {
		renderRes := sess.Render(session.RenderOptions{})
		if renderRes.Status != errs.StatusOK {
			return fmt.Errorf("render failed: %s", renderRes.Err.Error())
		}
		fmt.Printf("render fallback active: %v\n", sess.Describe().RenderFallbackActive)
	}

	return nil
}
