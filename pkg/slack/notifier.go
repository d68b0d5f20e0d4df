// Package slack delivers approval notifications to a Slack channel: one
// message per pending tool call, with the decision posted as a threaded
// reply. Delivery is fail-open: a Slack outage never blocks a run.
package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelops/kestrel/pkg/approval"
)

// NotifierConfig holds the parameters needed to construct a Notifier.
type NotifierConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Notifier handles approval notification delivery.
// Nil-safe: all methods are no-ops when the notifier is nil.
type Notifier struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewNotifier creates a notifier. Returns nil if Token or Channel is empty,
// which disables notifications entirely.
func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Notifier{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-notifier"),
	}
}

// NewNotifierWithClient creates a Notifier backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewNotifierWithClient(client *Client, dashboardURL string) *Notifier {
	return &Notifier{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-notifier"),
	}
}

// NotifyPending announces a new pending tool call.
func (n *Notifier) NotifyPending(ctx context.Context, call *approval.PendingCall) {
	if n == nil {
		return
	}
	blocks := BuildApprovalRequestMessage(call, n.dashboardURL)
	if err := n.client.PostMessage(ctx, blocks, "", 5*time.Second); err != nil {
		n.logger.Error("Failed to send approval request notification",
			"pending", call.ID, "tool", call.Tool, "error", err)
	}
}

// NotifyResolved announces an approval decision, threaded under the request
// message when it can be found in recent channel history.
func (n *Notifier) NotifyResolved(ctx context.Context, call *approval.PendingCall, approved bool) {
	if n == nil {
		return
	}
	threadTS, err := n.client.FindMessageByFingerprint(ctx, Fingerprint(call.ID))
	if err != nil {
		n.logger.Warn("Failed to find approval request thread",
			"pending", call.ID, "error", err)
	}
	blocks := BuildResolutionMessage(call, approved)
	if err := n.client.PostMessage(ctx, blocks, threadTS, 5*time.Second); err != nil {
		n.logger.Error("Failed to send approval resolution notification",
			"pending", call.ID, "approved", approved, "error", err)
	}
}
