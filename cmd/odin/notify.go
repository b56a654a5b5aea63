package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbround18/valheim/internal/config"
	"github.com/mbround18/valheim/internal/notify"
)

const notifyTimeout = 30 * time.Second

var (
	notifyTitle      string
	notifyMessage    string
	notifyWebhookURL string
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send a notification to the configured webhook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		webhook := notifyWebhookURL
		if webhook == "" {
			webhook = cfg.WebhookURL
		}
		if webhook == "" {
			return fmt.Errorf("no webhook url, use --webhook-url or set WEBHOOK_URL")
		}

		if dryRun {
			fmt.Printf("Would send %q to %s\n", notifyTitle, webhook)
			return nil
		}

		n, err := notify.New(webhook)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), notifyTimeout)
		defer cancel()
		return n.Send(ctx, notify.Event{
			Name:    notifyTitle,
			Status:  notify.StatusSuccessful,
			Title:   notifyTitle,
			Message: notifyMessage,
		})
	},
}

func init() {
	notifyCmd.Flags().StringVarP(&notifyTitle, "title", "t", "Broadcast", "notification title")
	notifyCmd.Flags().StringVarP(&notifyMessage, "message", "m", "Test Notification", "notification message")
	notifyCmd.Flags().StringVar(&notifyWebhookURL, "webhook-url", "", "webhook url (default $WEBHOOK_URL)")

	rootCmd.AddCommand(notifyCmd)
}

// sendNotification posts e when a webhook is configured. Failures are logged
// and never fail the calling command.
func sendNotification(ctx context.Context, cfg *config.Config, e notify.Event) {
	if cfg.WebhookURL == "" || noNotify {
		return
	}
	n, err := notify.New(cfg.WebhookURL)
	if err != nil {
		log.Warn("skipping notification", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := n.Send(ctx, e); err != nil {
		log.Warn("failed to send notification", "event", e.Name, "error", err)
	}
}
