package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"middleman/internal/config"
	"middleman/internal/metrics"
	"middleman/internal/models"
	"middleman/internal/validation"
)

const (
	supportFallback  = "I'm sorry, I'm having trouble connecting right now. Please try again later or contact our support team directly."
	analysisFallback = "Unable to analyze transaction at this time."
)

// FallbackFraudAnalysis is returned whenever a fraud score cannot be obtained.
func FallbackFraudAnalysis() models.FraudAnalysis {
	return models.FraudAnalysis{
		RiskLevel:       "low",
		FraudIndicators: []string{},
		Recommendation:  "approve",
		Confidence:      0.5,
		Reasoning:       "Unable to analyze due to API error",
	}
}

// Advisor asks the DeepSeek chat-completions API for fraud scores and
// support answers. Every call degrades to a fixed answer on failure; nothing
// here ever returns an error to the caller.
type Advisor struct {
	apiKey string
	apiURL string
	model  string
	client *http.Client
	logger *slog.Logger
}

// NewAdvisor creates an advisor from config. A missing API key is allowed;
// calls then fail upstream and fall back.
func NewAdvisor(cfg *config.Config, logger *slog.Logger) *Advisor {
	return &Advisor{
		apiKey: cfg.DeepSeekAPIKey,
		apiURL: cfg.DeepSeekAPIURL,
		model:  cfg.DeepSeekModel,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete sends one chat exchange and returns the first choice's content.
func (a *Advisor) complete(ctx context.Context, messages []chatMessage) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepseek request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("deepseek API error: %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("deepseek returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// ScoreTransaction rates a transaction for fraud. The model's answer must
// match the FraudAnalysis schema exactly or the fallback is returned.
func (a *Advisor) ScoreTransaction(ctx context.Context, tx *models.Transaction) models.FraudAnalysis {
	messages := []chatMessage{
		{
			Role: "system",
			Content: `You are a fraud detection AI for an escrow platform selling digital files. Analyze the transaction and look for suspicious patterns or fraud indicators. Respond with only a JSON object:
{
  "risk_level": "low" | "medium" | "high",
  "fraud_indicators": ["suspicious patterns"],
  "recommendation": "approve" | "flag" | "review",
  "confidence": number between 0 and 1,
  "reasoning": "short explanation"
}`,
		},
		{Role: "user", Content: "Analyze this transaction for fraud:\n" + describeTransaction(tx, true)},
	}

	content, err := a.complete(ctx, messages)
	if err != nil {
		return a.fraudFallback(tx, err)
	}

	analysis, err := parseFraudAnalysis(content)
	if err != nil {
		return a.fraudFallback(tx, err)
	}
	return analysis
}

func parseFraudAnalysis(content string) (models.FraudAnalysis, error) {
	var analysis models.FraudAnalysis
	dec := json.NewDecoder(strings.NewReader(stripCodeFence(content)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&analysis); err != nil {
		return models.FraudAnalysis{}, fmt.Errorf("decode fraud analysis: %w", err)
	}
	if err := validation.Struct(analysis); err != nil {
		return models.FraudAnalysis{}, err
	}
	if analysis.FraudIndicators == nil {
		analysis.FraudIndicators = []string{}
	}
	return analysis, nil
}

func (a *Advisor) fraudFallback(tx *models.Transaction, err error) models.FraudAnalysis {
	metrics.AdvisoryFallbacksTotal.WithLabelValues("fraud").Inc()
	a.logger.Warn("fraud detection unavailable", "transactionId", tx.TransactionID, "error", err)
	return FallbackFraudAnalysis()
}

// AnswerSupportQuery answers a user's support question. supportContext is
// whatever the client attached (page, transaction id, ...).
func (a *Advisor) AnswerSupportQuery(ctx context.Context, message string, supportContext map[string]any) string {
	contextJSON, err := json.Marshal(supportContext)
	if err != nil || supportContext == nil {
		contextJSON = []byte("{}")
	}

	messages := []chatMessage{
		{
			Role: "system",
			Content: `You are a helpful support assistant for The MiddleMan escrow platform. You help users with how escrow works, payments and disputes, file uploads and downloads, and transaction status questions.

Be friendly and accurate. If you don't know something, say so and suggest contacting support.

Current context: ` + string(contextJSON),
		},
		{Role: "user", Content: message},
	}

	answer, err := a.complete(ctx, messages)
	if err != nil {
		metrics.AdvisoryFallbacksTotal.WithLabelValues("support").Inc()
		a.logger.Warn("support chat unavailable", "error", err)
		return supportFallback
	}
	return answer
}

// AnalyzeTransaction returns free-text advice about a transaction for the
// buyer or seller.
func (a *Advisor) AnalyzeTransaction(ctx context.Context, tx *models.Transaction) string {
	messages := []chatMessage{
		{
			Role: "system",
			Content: `You are an assistant reviewing escrow transactions. Comment on transaction health and risk factors, possible issues, recommendations for the buyer or seller, and whether the price looks reasonable. Keep it actionable.`,
		},
		{Role: "user", Content: "Analyze this transaction:\n" + describeTransaction(tx, false)},
	}

	answer, err := a.complete(ctx, messages)
	if err != nil {
		metrics.AdvisoryFallbacksTotal.WithLabelValues("analysis").Inc()
		a.logger.Warn("transaction analysis unavailable", "transactionId", tx.TransactionID, "error", err)
		return analysisFallback
	}
	return answer
}

func describeTransaction(tx *models.Transaction, withIdentity bool) string {
	buyer := "N/A"
	if tx.BuyerName != nil && *tx.BuyerName != "" {
		buyer = *tx.BuyerName
	}

	var b strings.Builder
	if withIdentity {
		fmt.Fprintf(&b, "- Transaction ID: %s\n", tx.TransactionID)
	}
	fmt.Fprintf(&b, "- Title: %s\n", tx.Title)
	fmt.Fprintf(&b, "- Description: %s\n", tx.Description)
	fmt.Fprintf(&b, "- Price: $%s\n", tx.Price.StringFixed(2))
	fmt.Fprintf(&b, "- Seller: %s\n", tx.SellerName)
	fmt.Fprintf(&b, "- Buyer: %s\n", buyer)
	fmt.Fprintf(&b, "- File: %s\n", tx.FileName)
	if withIdentity {
		fmt.Fprintf(&b, "- Created: %s\n", tx.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- Status: %s", tx.Status)
	return b.String()
}

// stripCodeFence removes a surrounding ```json ... ``` block if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
