package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/slot"
)

func newJobIDCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "jobid <prefix> <content> <cron>",
		Short: "Print the deduplicated job id of a task for the current slot",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}
			if _, err := slot.Parser.Parse(args[2]); err != nil {
				return fmt.Errorf("invalid cron %q: %w", args[2], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), slot.JobID(args[0], args[1], args[2], now))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate at this RFC3339 time instead of now")
	return cmd
}
