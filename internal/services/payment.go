package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"middleman/internal/apperr"
)

// Metadata keys attached to every payment intent so the webhook can find the
// transaction and buyer again.
const (
	MetaTransactionID = "transactionId"
	MetaBuyerID       = "buyerId"
	MetaBuyerName     = "buyerName"
	MetaBuyerEmail    = "buyerEmail"
)

// PaymentIntent is what the client needs to confirm a card payment.
type PaymentIntent struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// PaymentConfirmation is a verified payment_intent.succeeded event.
type PaymentConfirmation struct {
	EventID         string
	PaymentIntentID string
	TransactionID   string
	BuyerID         string
	BuyerName       string
	BuyerEmail      string
}

// PaymentService talks to Stripe: it creates payment intents and verifies
// webhook deliveries.
type PaymentService struct {
	sc            *client.API
	webhookSecret string
	logger        *slog.Logger
}

// NewPaymentService creates a Stripe client. backends may be nil to use
// Stripe's default endpoints.
func NewPaymentService(secretKey, webhookSecret string, backends *stripe.Backends, logger *slog.Logger) *PaymentService {
	sc := &client.API{}
	sc.Init(secretKey, backends)
	return &PaymentService{
		sc:            sc,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// CreatePaymentIntent asks Stripe for an intent of amount (in major units)
// and returns the client secret for the browser.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*PaymentIntent, error) {
	minor := amount.Shift(2).Round(0).IntPart()
	if minor <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", apperr.ErrValidation)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		if v != "" {
			params.AddMetadata(k, v)
		}
	}

	pi, err := s.sc.PaymentIntents.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) {
			s.logger.Error("stripe rejected payment intent", "code", serr.Code, "message", serr.Msg)
		}
		return nil, fmt.Errorf("%w: Failed to create payment intent", apperr.ErrUpstream)
	}

	s.logger.Info("payment intent created",
		"paymentIntentId", pi.ID,
		"transactionId", metadata[MetaTransactionID],
		"amount", minor,
		"currency", currency,
	)
	return &PaymentIntent{ClientSecret: pi.ClientSecret, PaymentIntentID: pi.ID}, nil
}

// ParseWebhook verifies a webhook delivery. It returns nil, nil for events
// that are authentic but not a successful payment.
func (s *PaymentService) ParseWebhook(payload []byte, signatureHeader string) (*PaymentConfirmation, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: invalid webhook signature", apperr.ErrValidation)
	}

	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		return nil, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: malformed payment intent in event %s", apperr.ErrValidation, event.ID)
	}

	return &PaymentConfirmation{
		EventID:         event.ID,
		PaymentIntentID: pi.ID,
		TransactionID:   pi.Metadata[MetaTransactionID],
		BuyerID:         pi.Metadata[MetaBuyerID],
		BuyerName:       pi.Metadata[MetaBuyerName],
		BuyerEmail:      pi.Metadata[MetaBuyerEmail],
	}, nil
}
