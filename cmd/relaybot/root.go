package main

import (
	"context"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "relaybot",
		Short:         "Stores scraped articles and forwards them to chat platforms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "./config.yaml", "path to config yaml/json")

	cmd.AddCommand(
		newRunCmd(opts),
		newAccountsCmd(opts),
		newJobIDCmd(),
	)
	return cmd
}

// openStore loads the config and opens only the store, for operator
// commands that must not start workers.
func (o *rootOptions) openStore(ctx context.Context) (*storage.SQLStore, error) {
	cfg, err := config.NewManager(o.configPath).Load()
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, cfg.StorageConfig(), logx.Nop())
}
