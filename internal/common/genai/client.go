// Package genai talks to the language-model gateway that classifies chat
// messages and proposes product lines.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-workers/internal/common/config"
	httpclient "order-workers/internal/common/http"
	"order-workers/internal/common/logger"
	"order-workers/internal/common/validation"
	"order-workers/internal/ordering/pipeline"
)

const generatePath = "/api/ai/generate"

var (
	ErrOracleTimeout     = errors.New("ORACLE_TIMEOUT")
	ErrOracleUnavailable = errors.New("ORACLE_UNAVAILABLE")
	ErrInvalidResponse   = errors.New("ORACLE_INVALID_RESPONSE")
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxRetries  int
	Backoff     time.Duration
	MaxTokens   int
	Temperature float64
}

// ConfigFromApp maps the apis.genai section onto a client config.
func ConfigFromApp(cfg *config.Config) Config {
	g := cfg.APIs.GenAI
	return Config{
		BaseURL:    g.BaseURL,
		APIKey:     g.APIKey,
		Model:      g.Model,
		MaxRetries: g.MaxRetries,
	}
}

// Client implements pipeline.Oracle over the gateway's generate endpoint.
type Client struct {
	cfg    Config
	http   *httpclient.Client
	logger logger.Logger
}

var _ pipeline.Oracle = (*Client)(nil)

func NewClient(cfg Config, log logger.Logger) *Client {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		// no client timeout, the caller's context bounds every call
		http: httpclient.NewClient(0,
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBackoff(cfg.Backoff),
		),
		logger: logger.ForComponent(log, "genai"),
	}
}

type generateRequest struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model,omitempty"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	ResponseFormat string  `json:"response_format"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// ClassifyAndExtract asks the model for the intent and product lines of one
// message. The answer is schema-checked before it is returned.
func (c *Client) ClassifyAndExtract(ctx context.Context, text, conversationContext string) (*pipeline.OracleResult, error) {
	start := time.Now()

	req := generateRequest{
		Prompt:         buildPrompt(text, conversationContext),
		Model:          c.cfg.Model,
		MaxTokens:      c.cfg.MaxTokens,
		Temperature:    c.cfg.Temperature,
		ResponseFormat: "json",
	}
	headers := map[string]string{}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}

	var resp generateResponse
	if err := c.http.PostJSON(ctx, c.cfg.BaseURL+generatePath, headers, req, &resp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrOracleTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	result, err := parseAnswer(resp.Text)
	if err != nil {
		c.logger.WithError(err).Warn("Discarding oracle answer", map[string]interface{}{
			"answerLength": len(resp.Text),
		})
		return nil, err
	}

	c.logger.Debug("Oracle answered", map[string]interface{}{
		"intent":       result.IntentLabel,
		"confidence":   result.IntentConfidence,
		"productCount": len(result.Products),
		"duration":     time.Since(start).String(),
	})
	return result, nil
}

// parseAnswer accepts the model's JSON, optionally wrapped in a markdown
// code fence.
func parseAnswer(text string) (*pipeline.OracleResult, error) {
	raw := []byte(stripFence(text))

	if res := validation.OracleResponse.ValidateJSON(raw); !res.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, res.Error())
	}

	var answer struct {
		pipeline.OracleResult
		DeliveryDate *string `json:"deliveryDate"`
	}
	if err := json.Unmarshal(raw, &answer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	out := answer.OracleResult
	if answer.DeliveryDate != nil {
		out.DeliveryDate = *answer.DeliveryDate
	}
	return &out, nil
}

func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func buildPrompt(text, conversationContext string) string {
	var parts []string

	parts = append(parts, "You read WhatsApp messages written in informal Mexican Spanish to a grocery supplier.")
	parts = append(parts, "Classify the message and list every product the customer wants.")

	if ctx := strings.TrimSpace(conversationContext); ctx != "" {
		parts = append(parts, "\nEarlier in the conversation:")
		parts = append(parts, ctx)
	}
	parts = append(parts, fmt.Sprintf("\nMessage: %q", text))

	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- intent is one of BUY, QUESTION, COMPLAINT, OTHER")
	parts = append(parts, "- confidence is a number between 0.0 and 1.0")
	parts = append(parts, "- products is a list of {name, quantity, unit, confidence}; use quantity 1 when none is given")
	parts = append(parts, "- keep product names as the customer wrote them, do not invent catalog names")
	parts = append(parts, "- deliveryDate is an ISO date when the customer asks for one, otherwise null")
	parts = append(parts, "- answer with a single JSON object and nothing else")

	return strings.Join(parts, "\n")
}
