package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/pkg/httpclient"
)

const (
	serviceName = "openai"
	temperature = 0.7

	passwordMaxTokens    = 200
	explanationMaxTokens = 250

	passwordSystemPrompt    = "You are a cybersecurity expert specializing in password security. Provide helpful and constructive feedback."
	explanationSystemPrompt = "You are a helpful technical support assistant. Explain authentication errors clearly and provide actionable solutions."
)

var defaultSuggestions = []string{
	"Use a mix of uppercase and lowercase letters",
	"Include numbers and special characters",
	"Make it at least 12 characters long",
}

// Config holds the chat completions endpoint settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
}

// OpenAIClient calls an OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client httpclient.Doer
	cfg    Config
	logger *slog.Logger
}

// NewOpenAIClient creates a client whose requests go through a retrying
// HTTP client and a circuit breaker.
func NewOpenAIClient(cfg Config, logger *slog.Logger) *OpenAIClient {
	hc := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}
	hc.MaxRetries = 1
	hc.RetryWaitMin = 200 * time.Millisecond
	hc.RetryWaitMax = time.Second
	hc.RetryAllMethods = true
	hc.UserAgent = "auth-service"

	cb := httpclient.NewCircuitBreakerClient(httpclient.New(hc), httpclient.DefaultCircuitBreakerConfig(serviceName), logger)
	return newOpenAIClient(cb, cfg, logger)
}

func newOpenAIClient(client httpclient.Doer, cfg Config, logger *slog.Logger) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAIClient{client: client, cfg: cfg, logger: logger}
}

// PasswordFeedback asks the model to rate a password.
func (c *OpenAIClient) PasswordFeedback(ctx context.Context, password string) (*domain.PasswordFeedback, error) {
	prompt := `Analyze the following password and provide feedback on its strength. Provide suggestions for improvement if needed. Be concise and helpful.

Password: ` + password + `

Provide feedback in JSON format with the following structure:
{
  "strength": "weak|moderate|strong",
  "score": 0-100,
  "feedback": "brief feedback message",
  "suggestions": ["suggestion1", "suggestion2", ...]
}`

	reply, err := c.complete(ctx, passwordSystemPrompt, prompt, passwordMaxTokens)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Strength    string   `json:"strength"`
		Score       float64  `json:"score"`
		Feedback    string   `json:"feedback"`
		Suggestions []string `json:"suggestions"`
	}
	if !decodeFirstObject(reply, &parsed) {
		feedback := reply
		if feedback == "" {
			feedback = "Password analysis completed"
		}
		return &domain.PasswordFeedback{
			Strength:    "moderate",
			Score:       50,
			Feedback:    feedback,
			Suggestions: append([]string(nil), defaultSuggestions...),
		}, nil
	}

	return &domain.PasswordFeedback{
		Strength:    parsed.Strength,
		Score:       clampScore(parsed.Score),
		Feedback:    parsed.Feedback,
		Suggestions: parsed.Suggestions,
	}, nil
}

// ExplainAuthError asks the model to explain a failure in plain language.
// Only the generic client-facing message is ever sent.
func (c *OpenAIClient) ExplainAuthError(ctx context.Context, kind, message string) (*domain.ErrorExplanation, error) {
	prompt := `A user is experiencing an authentication error. Explain what went wrong and how they can fix it in a friendly, helpful manner.

Error Type: ` + kind + `
Error Message: ` + message + `

Provide a clear explanation in JSON format:
{
  "explanation": "user-friendly explanation of the error",
  "cause": "what caused this error",
  "solution": "how to fix it",
  "prevention": "how to prevent this in the future"
}`

	reply, err := c.complete(ctx, explanationSystemPrompt, prompt, explanationMaxTokens)
	if err != nil {
		return nil, err
	}

	var parsed domain.ErrorExplanation
	if !decodeFirstObject(reply, &parsed) {
		explanation := message
		if explanation == "" {
			explanation = "An authentication error occurred"
		}
		return &domain.ErrorExplanation{
			Explanation: explanation,
			Cause:       "Authentication failed",
			Solution:    "Please check your credentials and try again",
			Prevention:  "Ensure you're using the correct email and password",
		}, nil
	}
	return &parsed, nil
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

// complete sends one chat completion and returns the reply text.
func (c *OpenAIClient) complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("chat completion: %w", httpclient.ParseResponseError(resp, serviceName))
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}

	c.logger.DebugContext(ctx, "chat completion finished",
		slog.String("model", c.cfg.Model),
		slog.Duration("duration", time.Since(start)),
	)
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// decodeFirstObject decodes the span from the first '{' to the last '}' of
// text, which is how JSON usually arrives wrapped in prose or code fences.
func decodeFirstObject(text string, v any) bool {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(text[start:end+1]), v) == nil
}

func clampScore(score float64) int {
	return int(math.Round(math.Max(0, math.Min(100, score))))
}

var _ Advisor = (*OpenAIClient)(nil)
