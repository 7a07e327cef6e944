package managers

import (
	"context"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/toolbridge/toolbridge/internal/domain"
)

// NoopNotifier is the default when no email configuration is present.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, n domain.Notification) {}

type emailNotifier struct {
	client    *resend.Client
	fromEmail string
	toEmail   string
}

type EmailNotifierDependencies struct {
	APIKey    string
	FromEmail string
	// ToEmail is the operator inbox notified when no per-user address is set.
	ToEmail string
}

func NewEmailNotifier(deps EmailNotifierDependencies) domain.Notifier {
	return &emailNotifier{
		client:    resend.NewClient(deps.APIKey),
		fromEmail: deps.FromEmail,
		toEmail:   deps.ToEmail,
	}
}

// Notify sends the notification by email. Best effort: failures are logged
// and swallowed so a notification problem never fails a pipeline.
func (n *emailNotifier) Notify(ctx context.Context, notification domain.Notification) {
	recipient := notification.UserEmail
	if recipient == "" {
		recipient = n.toEmail
	}
	if recipient == "" {
		return
	}

	request := &resend.SendEmailRequest{
		From:    n.fromEmail,
		To:      []string{recipient},
		Subject: notification.Subject,
		Text:    notification.Body,
	}

	if _, err := n.client.Emails.SendWithContext(ctx, request); err != nil {
		log.Error().Err(err).Str("subject", notification.Subject).Msg("Failed to send notification email")
	}
}
