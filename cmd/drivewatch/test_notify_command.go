package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"drivewatch/internal/api"
	"drivewatch/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		Long:  "Send a test notification through the running daemon, or directly from this process when the daemon is not running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if client, err := ctx.apiClient(); err == nil {
				resp, err := client.TestNotification(cmd.Context())
				switch {
				case err == nil && resp.Sent:
					fmt.Fprintln(out, "Test notification sent by daemon")
					return nil
				case err == nil:
					fmt.Fprintln(out, resp.Message)
					return nil
				case !errors.Is(err, api.ErrUnreachable):
					return wrapAPIError(err, cfg.API.Bind)
				}
			}

			svc := notifications.NewService(cfg)
			if !notifications.Configured(svc) {
				fmt.Fprintln(out, "ntfy topic not configured")
				return nil
			}
			if err := svc.Publish(cmd.Context(), notifications.EventTest, nil); err != nil {
				return fmt.Errorf("send notification: %w", err)
			}
			fmt.Fprintln(out, "Test notification sent")
			return nil
		},
	}
}
