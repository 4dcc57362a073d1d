package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"postpilot/internal/app"
	"postpilot/internal/intake"
	"postpilot/pkg/models"
)

func newRuleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage automation rules",
	}
	cmd.AddCommand(newRuleAddCmd(opts), newRuleListCmd(opts),
		newRuleToggleCmd(opts, "enable", true), newRuleToggleCmd(opts, "disable", false))
	return cmd
}

func newRuleAddCmd(opts *rootOptions) *cobra.Command {
	var req intake.RuleRequest
	var frequency string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a daily or weekly rule",
		Long: `Create a rule that materializes one job per time slot occurrence.

Daily slots are "HH:MM". Weekly slots are "Mon HH:MM"; a bare "HH:MM" means Monday.
The topic template may use {date}, {weekday}, {rule} and {slot}.`,
		Example: `  postctl rule add -o alice --name tips --topic "tip of {date}" -p linkedin --frequency daily --slot 09:00 --slot 17:30
  postctl rule add -o alice --name recap --topic "weekly recap" -p twitter --frequency weekly --slot "Fri 16:00"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOwner(opts); err != nil {
				return err
			}
			req.Owner = opts.owner
			req.Frequency = models.Frequency(frequency)
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				id, err := a.Intake().CreateRule(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "rule name")
	f.StringVar(&req.TopicTemplate, "topic", "", "topic template")
	f.StringSliceVarP(&req.Platforms, "platform", "p", nil, "target platforms")
	f.StringVar(&req.Style, "style", intake.DefaultStyle, "content style")
	f.StringVar(&frequency, "frequency", string(models.FrequencyDaily), "daily or weekly")
	f.StringArrayVar(&req.TimeSlots, "slot", nil, "time slot (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func newRuleListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List an owner's rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOwner(opts); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				rules, err := a.Intake().ListRules(ctx, opts.owner)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tFREQUENCY\tSLOTS\tPLATFORMS\tEXPANDED UNTIL")
				for _, r := range rules {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Active, r.Frequency,
						strings.Join(r.TimeSlots, ","), strings.Join(r.Platforms, ","), fmtTime(r.ExpandedUntil))
				}
				return tw.Flush()
			})
		},
	}
}

func newRuleToggleCmd(opts *rootOptions, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <rule-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Intake().SetRuleActive(ctx, args[0], active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", args[0], verb)
				return nil
			})
		},
	}
}
