package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tillpoint/internal/cli"
	"github.com/Veraticus/tillpoint/internal/model"
)

func healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health <id>",
		Short: "Check that a terminal is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			timeout, _ := cmd.Flags().GetDuration("timeout")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			client, err := newClient(ctx, store, id)
			if err != nil {
				return err
			}

			result := client.HealthCheck(ctx, timeout)

			status, seen := model.StatusOffline, time.Time{}
			if result.Success {
				status, seen = result.Status.ConnectionStatus(), time.Now()
			}
			if err := store.RecordHealth(ctx, id, status, seen); err != nil {
				slog.Warn("Failed to record terminal health", "terminal", id, "error", err)
			}

			if !result.Success {
				return result.Error
			}

			fmt.Println(cli.FormatSuccess(result.Message))                 //nolint:forbidigo // User-facing output
			fmt.Printf("  Firmware: %s\n  Platform: %s\n  Status:   %s\n", //nolint:forbidigo // User-facing output
				result.Status.FirmwareVersion, result.Status.Platform, cli.StatusBadge(status))
			return nil
		},
	}

	cmd.Flags().Duration("timeout", 5*time.Second, "health check timeout")
	return cmd
}
