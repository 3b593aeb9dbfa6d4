package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/accountpool"
	"relaybot/internal/model"
	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

func newAccountsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and override scraping accounts",
	}

	var platform, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd.Context(), func(ctx context.Context, st *storage.SQLStore) error {
				accs, err := st.ListAccounts(ctx, storage.AccountFilter{Platform: platform, Status: model.AccountStatus(status)})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tPLATFORM\tNAME\tSTATUS\tFAILURES\tBAN_UNTIL\tLAST_USED")
				for _, a := range accs {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
						a.ID, a.Platform, a.Name, a.Status, a.FailureCount, fmtTime(a.BanUntil), fmtTime(a.LastUsedAt))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&platform, "platform", "", "filter by platform")
	list.Flags().StringVar(&status, "status", "", "filter by status (active|inactive|banned)")

	var credential string
	add := &cobra.Command{
		Use:   "add <platform> <name>",
		Short: "Provision an active account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(ctx context.Context, st *storage.SQLStore) error {
				id, err := st.CreateAccount(ctx, model.Account{
					Platform:   args[0],
					Name:       args[1],
					Credential: credential,
					Status:     model.AccountActive,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	add.Flags().StringVar(&credential, "credential", "", "opaque credential (cookie, token)")

	var banFor time.Duration
	ban := poolCmd(opts, "ban <id>", "Ban an account", func(ctx context.Context, p *accountpool.Pool, st *storage.SQLStore, id int64) error {
		if banFor > 0 {
			return st.BanAccount(ctx, id, time.Now().Add(banFor))
		}
		return p.MarkAccountAsBanned(ctx, id)
	})
	ban.Flags().DurationVar(&banFor, "for", 0, "ban window; 0 bans until activated")

	unban := &cobra.Command{
		Use:   "unban",
		Short: "Reactivate accounts whose ban window passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd.Context(), func(ctx context.Context, st *storage.SQLStore) error {
				n, err := accountpool.New(st, logx.Nop(), nil).UnbanExpiredAccounts(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unbanned %d\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, ban, unban,
		poolCmd(opts, "activate <id>", "Mark an account active", func(ctx context.Context, p *accountpool.Pool, _ *storage.SQLStore, id int64) error {
			return p.MarkAccountAsActive(ctx, id)
		}),
		poolCmd(opts, "deactivate <id>", "Mark an account inactive", func(ctx context.Context, p *accountpool.Pool, _ *storage.SQLStore, id int64) error {
			return p.MarkAccountAsInactive(ctx, id)
		}),
	)
	return cmd
}

// poolCmd builds a single-id override command.
func poolCmd(opts *rootOptions, use, short string, fn func(ctx context.Context, p *accountpool.Pool, st *storage.SQLStore, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			return opts.withStore(cmd.Context(), func(ctx context.Context, st *storage.SQLStore) error {
				if _, err := st.GetAccount(ctx, id); err != nil {
					return err
				}
				return fn(ctx, accountpool.New(st, logx.Nop(), nil), st, id)
			})
		},
	}
}

func (o *rootOptions) withStore(ctx context.Context, fn func(ctx context.Context, st *storage.SQLStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := o.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(ctx, st)
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
