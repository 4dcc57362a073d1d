package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"postpilot/internal/app"
	"postpilot/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	owner      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "postctl",
		Short: "postctl schedules posts, manages automation rules and linked accounts",
		Long: `postctl talks directly to the postpilot job store.

Common workflows:

  Schedule a post:
    postctl enqueue --owner alice --topic "spring sale" --platform instagram,twitter --at 2025-03-10T09:00:00Z

  Check a job:
    postctl status <job-id>

  Create a daily rule:
    postctl rule add --owner alice --name tips --topic "tip of {date}" --platform linkedin --frequency daily --slot 09:00

  Link an account:
    postctl account link --owner alice --platform twitter --credential <token>`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "./config.yaml", "path to config (json or yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "error", "log level for this command")
	pf.StringVarP(&opts.owner, "owner", "o", "", "owner id")

	root.AddCommand(
		newEnqueueCmd(opts),
		newStatusCmd(opts),
		newListCmd(opts),
		newStuckCmd(opts),
		newReconcileCmd(opts),
		newRunOnceCmd(opts),
		newRuleCmd(opts),
		newAccountCmd(opts),
	)
	return root
}

// withApp loads the config, builds the app and runs fn with a signal-aware context.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.NewManager(opts.configPath).Load()
	if err != nil {
		return err
	}
	cfg.Logging.Level = opts.logLevel
	cfg.Logging.Console = true
	a, err := app.New(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return fn(ctx, a)
}

func requireOwner(opts *rootOptions) error {
	if opts.owner == "" {
		return fmt.Errorf("--owner is required")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
