package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"middleman/internal/logging"
	"middleman/internal/models"
)

func newTestEmailService(t *testing.T, handler http.HandlerFunc) *EmailService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := resend.NewCustomClient(srv.Client(), "re_test")
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	return NewEmailService(client, "escrow@example.com", "https://app.example.com", logging.Nop())
}

func paidTx() *models.Transaction {
	release := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	buyer := "Bo <script>"
	return &models.Transaction{
		TransactionID:     "escrow_1",
		Title:             "Logo pack",
		Price:             decimal.RequireFromString("29.9"),
		SellerEmail:       "sam@example.com",
		Status:            models.TransactionPaid,
		BuyerName:         &buyer,
		EscrowReleaseTime: &release,
	}
}

func TestEmailService_PaymentReceived(t *testing.T) {
	var sent resend.SendEmailRequest
	svc := newTestEmailService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email_1"}`))
	})

	require.NoError(t, svc.PaymentReceived(context.Background(), paidTx()))

	assert.Equal(t, []string{"sam@example.com"}, sent.To)
	assert.Equal(t, "escrow@example.com", sent.From)
	assert.Contains(t, sent.Html, "$29.90")
	assert.Contains(t, sent.Html, "https://app.example.com/escrow/escrow_1")
	assert.Contains(t, sent.Html, "Bo &lt;script&gt;")
}

func TestEmailService_DisputeRaised(t *testing.T) {
	var sent resend.SendEmailRequest
	svc := newTestEmailService(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		_, _ = w.Write([]byte(`{"id":"email_2"}`))
	})

	tx := paidTx()
	reason := "File corrupted"
	tx.DisputeReason = &reason
	require.NoError(t, svc.DisputeRaised(context.Background(), tx))
	assert.Contains(t, sent.Subject, "Dispute")
	assert.Contains(t, sent.Html, "File corrupted")
}

func TestEmailService_SkipsWithoutSellerEmail(t *testing.T) {
	called := false
	svc := newTestEmailService(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	tx := paidTx()
	tx.SellerEmail = ""
	require.NoError(t, svc.PaymentReceived(context.Background(), tx))
	assert.False(t, called)
}

func TestEmailService_ProviderError(t *testing.T) {
	svc := newTestEmailService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"statusCode":422,"name":"validation_error","message":"bad from"}`))
	})

	assert.Error(t, svc.PaymentReceived(context.Background(), paidTx()))
}
