package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"postpilot/internal/app"
	"postpilot/internal/intake"
)

func parseAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "now" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: want RFC3339, a duration from now, or \"now\": %w", err)
	}
	return t, nil
}

func newEnqueueCmd(opts *rootOptions) *cobra.Command {
	var (
		topic     string
		platforms []string
		style     string
		at        string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Schedule a post",
		Example: `  postctl enqueue -o alice --topic "launch day" --platform instagram,twitter --at 2h
  postctl enqueue -o alice --topic "launch day" --platform linkedin --style casual --at 2025-03-10T09:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOwner(opts); err != nil {
				return err
			}
			when, err := parseAt(at)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				id, err := a.Intake().ScheduleJob(ctx, intake.JobRequest{
					Owner:       opts.owner,
					Topic:       topic,
					Platforms:   platforms,
					Style:       style,
					ScheduledAt: when,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&topic, "topic", "", "post topic")
	f.StringSliceVarP(&platforms, "platform", "p", nil, "target platforms (repeat or comma-separate)")
	f.StringVar(&style, "style", intake.DefaultStyle, "content style")
	f.StringVar(&at, "at", "now", "publish time: RFC3339, a duration from now (e.g. 90m) or now")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job with its content and per-platform outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				v, err := a.Intake().Status(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
}

func printJobs(cmd *cobra.Command, jobs []intake.StatusView) error {
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "ID\tSTATUS\tSCHEDULED\tPLATFORMS\tTOPIC")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Status, fmtTime(j.ScheduledAt), strings.Join(j.Platforms, ","), j.Topic)
	}
	return tw.Flush()
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOwner(opts); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				jobs, err := a.Intake().ListJobs(ctx, opts.owner, limit)
				if err != nil {
					return err
				}
				return printJobs(cmd, jobs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum jobs to show (0 = all)")
	return cmd
}

func newStuckCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List jobs left in generating/publishing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				jobs, err := a.Intake().Stuck(ctx, olderThan)
				if err != nil {
					return err
				}
				return printJobs(cmd, jobs)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "minimum time since the last status change")
	return cmd
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reconcile <job-id>",
		Short: "Mark a stuck job failed after checking the platforms by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Intake().Reconcile(ctx, args[0], reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s marked failed\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "recorded as the job's last error")
	return cmd
}

func newRunOnceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Expand rules and run one scheduler cycle, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				rrep, prep, err := a.RunOnce(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "rules=%d created=%d rule_errors=%d\n", rrep.Rules, rrep.Created, rrep.Errors)
				fmt.Fprintf(out, "due=%d claimed=%d skipped=%d completed=%d failed=%d faults=%d\n",
					prep.Due, prep.Claimed, prep.Skipped, prep.Completed, prep.Failed, prep.Faults)
				return nil
			})
		},
	}
}
