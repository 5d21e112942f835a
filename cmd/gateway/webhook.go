package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bingo_gateway/internal/telegram"
)

const webhookCallTimeout = 15 * time.Second

func webhookCmd() *cobra.Command {
	var dropPending bool

	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}
	cmd.PersistentFlags().BoolVar(&dropPending, "drop-pending", false, "drop updates queued at Telegram")

	cmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Register TELEGRAM_WEBHOOK_URL with Telegram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTelegram(cmd.Context(), func(ctx context.Context, client *telegram.Client) error {
				if err := client.SetWebhook(ctx, dropPending); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "webhook registered")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook so long polling can be used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTelegram(cmd.Context(), func(ctx context.Context, client *telegram.Client) error {
				if err := client.DeleteWebhook(ctx, dropPending); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show Telegram's view of the webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTelegram(cmd.Context(), func(ctx context.Context, client *telegram.Client) error {
				info, err := client.WebhookInfo(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				url := info.URL
				if url == "" {
					url = "(none, long polling)"
				}
				fmt.Fprintf(out, "url: %s\n", url)
				fmt.Fprintf(out, "pending_updates: %d\n", info.PendingUpdateCount)
				fmt.Fprintf(out, "allowed_updates: %v\n", info.AllowedUpdates)
				if info.LastErrorMessage != "" {
					fmt.Fprintf(out, "last_error: %s (at %d)\n", info.LastErrorMessage, info.LastErrorDate)
				}
				return nil
			})
		},
	})

	return cmd
}

func withTelegram(parent context.Context, fn func(ctx context.Context, client *telegram.Client) error) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}

	client, err := telegram.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("telegram client setup error: %w", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, webhookCallTimeout)
	defer cancel()

	return fn(ctx, client)
}
