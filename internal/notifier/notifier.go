package notifier

import (
	"bytes"
	"context"
	"fmt"
)

// Config is the subset of notification settings the Notifier needs to
// route messages to the right recipient.
type Config struct {
	Enabled bool

	RecipientSummary string
	RecipientError   string
	RecipientHazard  string
}

// Notifier sends run summaries, fatal errors, and hazard detections to
// their respective configured recipients.
type Notifier struct {
	Sender Sender
	Config Config
}

// New creates a Notifier. A nil sender is valid: every Notify call
// becomes a no-op, which lets callers construct a Notifier
// unconditionally and let Config.Enabled (or an absent recipient)
// decide whether anything is actually sent.
func New(sender Sender, cfg Config) *Notifier {
	return &Notifier{Sender: sender, Config: cfg}
}

// NotifySummary sends the run summary to the configured summary
// recipient, if notifications are enabled and a recipient is set.
func (n *Notifier) NotifySummary(ctx context.Context, summary Summary) error {
	recipient := n.Config.RecipientSummary
	if !n.canSend(recipient) {
		return nil
	}

	var buf bytes.Buffer
	if err := FormatHuman(&buf, summary); err != nil {
		return fmt.Errorf("format summary for notification: %w", err)
	}

	return n.Sender.Send(ctx, Message{
		To:      []string{recipient},
		Subject: fmt.Sprintf("shuttle run summary: %s", summary.ExitReason),
		Body:    buf.String(),
	})
}

// NotifyError sends a fatal-error notification, regardless of which
// other notification channels are configured, per the spec's rule that
// error notifications are sent unconditionally when notifications are
// enabled at all.
func (n *Notifier) NotifyError(ctx context.Context, message string) error {
	recipient := n.Config.RecipientError
	if !n.canSend(recipient) {
		return nil
	}

	return n.Sender.Send(ctx, Message{
		To:      []string{recipient},
		Subject: "shuttle error",
		Body:    message,
	})
}

// NotifyHazard sends a hazard-detection notification to its own
// channel, separate from the summary and error channels.
func (n *Notifier) NotifyHazard(ctx context.Context, sourcePath, archivePath, archiveHash string) error {
	recipient := n.Config.RecipientHazard
	if !n.canSend(recipient) {
		return nil
	}

	body := fmt.Sprintf("suspect file detected and archived.\n\nsource: %s\narchive: %s\nsha256: %s\n", sourcePath, archivePath, archiveHash)

	return n.Sender.Send(ctx, Message{
		To:      []string{recipient},
		Subject: "shuttle hazard detection",
		Body:    body,
	})
}

func (n *Notifier) canSend(recipient string) bool {
	return n.Config.Enabled && n.Sender != nil && recipient != ""
}
