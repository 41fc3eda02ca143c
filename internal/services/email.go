package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/resend/resend-go/v2"

	"middleman/internal/models"
)

// EmailService sends seller notifications through Resend. It satisfies
// escrow.Notifier.
type EmailService struct {
	client  *resend.Client
	from    string
	baseURL string
	logger  *slog.Logger
}

// NewEmailService creates a Resend-backed notifier. appBaseURL is used to
// link back to the transaction page.
func NewEmailService(client *resend.Client, from, appBaseURL string, logger *slog.Logger) *EmailService {
	return &EmailService{
		client:  client,
		from:    from,
		baseURL: appBaseURL,
		logger:  logger,
	}
}

// PaymentReceived tells the seller their file was paid for and when the
// funds release.
func (es *EmailService) PaymentReceived(ctx context.Context, tx *models.Transaction) error {
	if tx.SellerEmail == "" {
		return nil
	}

	release := "24 hours after payment"
	if tx.EscrowReleaseTime != nil {
		release = tx.EscrowReleaseTime.Format(time.RFC1123)
	}

	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2>Payment received for %s</h2>
        <p>%s paid <strong>$%s</strong>. The funds are held in escrow.</p>
        <p>If the buyer does not raise a dispute, they will be released to you on <strong>%s</strong>.</p>
        <p><a href="%s">View transaction</a></p>
        <p style="margin-top: 30px; font-size: 12px; color: #666;">This is an automated message, please do not reply.</p>
    </div>
</body>
</html>`,
		html.EscapeString(tx.Title),
		html.EscapeString(buyerLabel(tx)),
		tx.Price.StringFixed(2),
		release,
		es.transactionURL(tx),
	)

	return es.send(ctx, tx, "The MiddleMan - Payment received", body)
}

// DisputeRaised tells the seller the buyer disputed and funds are frozen.
func (es *EmailService) DisputeRaised(ctx context.Context, tx *models.Transaction) error {
	if tx.SellerEmail == "" {
		return nil
	}

	reason, description := "", ""
	if tx.DisputeReason != nil {
		reason = *tx.DisputeReason
	}
	if tx.DisputeDescription != nil {
		description = *tx.DisputeDescription
	}

	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2>A dispute was raised on %s</h2>
        <p><strong>Reason:</strong> %s</p>
        <p>%s</p>
        <p>The payment stays in escrow until our support team reviews the dispute.</p>
        <p><a href="%s">View transaction</a></p>
        <p style="margin-top: 30px; font-size: 12px; color: #666;">This is an automated message, please do not reply.</p>
    </div>
</body>
</html>`,
		html.EscapeString(tx.Title),
		html.EscapeString(reason),
		html.EscapeString(description),
		es.transactionURL(tx),
	)

	return es.send(ctx, tx, "The MiddleMan - Dispute raised", body)
}

func (es *EmailService) send(ctx context.Context, tx *models.Transaction, subject, body string) error {
	sent, err := es.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    es.from,
		To:      []string{tx.SellerEmail},
		Subject: subject,
		Html:    body,
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	es.logger.Info("email sent", "transactionId", tx.TransactionID, "subject", subject, "id", sent.Id)
	return nil
}

func (es *EmailService) transactionURL(tx *models.Transaction) string {
	return fmt.Sprintf("%s/escrow/%s", es.baseURL, tx.TransactionID)
}

func buyerLabel(tx *models.Transaction) string {
	if tx.BuyerName != nil && *tx.BuyerName != "" {
		return *tx.BuyerName
	}
	return "A buyer"
}

// NopNotifier drops every notification. Used when no email provider is
// configured.
type NopNotifier struct{}

func (NopNotifier) PaymentReceived(context.Context, *models.Transaction) error { return nil }
func (NopNotifier) DisputeRaised(context.Context, *models.Transaction) error   { return nil }
