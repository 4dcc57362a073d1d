package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"postpilot/internal/app"
	"postpilot/internal/intake"
)

func newAccountCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage linked platform accounts",
	}
	cmd.AddCommand(newAccountLinkCmd(opts), newAccountUnlinkCmd(opts), newAccountListCmd(opts))
	return cmd
}

func newAccountLinkCmd(opts *rootOptions) *cobra.Command {
	var (
		req     intake.AccountRequest
		expires string
	)
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link (or relink) an account for one platform",
		Example: `  postctl account link -o alice --platform twitter --credential $TWITTER_TOKEN --name @alice
  postctl account link -o alice --platform telegram --credential $BOT_TOKEN --external-id -1001234567890`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOwner(opts); err != nil {
				return err
			}
			req.Owner = opts.owner
			if expires != "" {
				t, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return fmt.Errorf("--expires: %w", err)
				}
				req.ExpiresAt = &t
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Intake().LinkAccount(ctx, req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s linked for %s\n", req.Platform, req.Owner)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.Platform, "platform", "p", "", "platform tag")
	f.StringVar(&req.Credential, "credential", "", "access token")
	f.StringVar(&req.AccountName, "name", "", "display name of the account")
	f.StringVar(&req.ExternalID, "external-id", "", "platform-side id (telegram: chat id)")
	f.StringVar(&expires, "expires", "", "credential expiry (RFC3339)")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("credential")
	return cmd
}

func newAccountUnlinkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <platform>",
		Short: "Deactivate the linked account for a platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(opts); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Intake().UnlinkAccount(ctx, opts.owner, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s unlinked for %s\n", args[0], opts.owner)
				return nil
			})
		},
	}
}

func newAccountListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List an owner's linked accounts (credentials are never shown)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOwner(opts); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				accts, err := a.Intake().ListAccounts(ctx, opts.owner)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "PLATFORM\tNAME\tEXTERNAL ID\tACTIVE\tEXPIRES")
				for _, acc := range accts {
					exp := "-"
					if acc.ExpiresAt != nil {
						exp = fmtTime(*acc.ExpiresAt)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", acc.Platform, acc.AccountName, acc.ExternalID, acc.Active, exp)
				}
				return tw.Flush()
			})
		},
	}
}
