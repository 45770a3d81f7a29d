package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
)

// Client talks to the Gemini generateContent API. A client with an empty
// API key is disabled: every call reports that without touching the
// network, so the sentiment pipeline degrades to neutral instead of
// failing.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	topP        float64
	topK        int
	maxTokens   int
	maxRetries  int
	httpClient  *http.Client
}

// ClientConfig contains configuration for the Gemini client.
type ClientConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = fmt.Errorf("llm client disabled: no API key configured")

// NewClient creates a Gemini client with flash-model defaults tuned for
// consistent analysis output.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.TopP == 0 {
		cfg.TopP = 0.8
	}
	if cfg.TopK == 0 {
		cfg.TopK = 40
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &Client{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		topK:        cfg.TopK,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// FromConfig builds a client from the application LLM section.
func FromConfig(cfg config.LLMConfig) *Client {
	return NewClient(ClientConfig{
		Endpoint:    cfg.Endpoint,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		TopK:        cfg.TopK,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     time.Duration(cfg.Timeout) * time.Millisecond,
		MaxRetries:  cfg.MaxRetries,
	})
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate sends one prompt to the model and returns the raw response.
func (c *Client) Generate(ctx context.Context, prompt string) (*GenerateResponse, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	request := GenerateRequest{
		Contents: []Content{
			{Role: "user", Parts: []Part{{Text: prompt}}},
		},
		GenerationConfig: &GenerationConfig{
			Temperature:     c.temperature,
			TopP:            c.topP,
			TopK:            c.topK,
			MaxOutputTokens: c.maxTokens,
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.endpoint, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug().
		Str("model", c.model).
		Int("prompt_len", len(prompt)).
		Msg("Sending model request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordScoring(c.model, "error", float64(time.Since(start).Milliseconds()))
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordScoring(c.model, "error", float64(duration.Milliseconds()))
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.RecordScoring(c.model, "error", float64(duration.Milliseconds()))
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
			return nil, fmt.Errorf("model API error (status %d): %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("model API error: %s (%s)", errResp.Error.Message, errResp.Error.Status)
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		metrics.RecordScoring(c.model, "error", float64(duration.Milliseconds()))
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(genResp.Candidates) == 0 {
		metrics.RecordScoring(c.model, "empty", float64(duration.Milliseconds()))
		return nil, fmt.Errorf("no candidates in model response")
	}

	metrics.RecordScoring(c.model, "success", float64(duration.Milliseconds()))

	if genResp.UsageMetadata != nil {
		log.Debug().
			Int("prompt_tokens", genResp.UsageMetadata.PromptTokenCount).
			Int("completion_tokens", genResp.UsageMetadata.CandidatesTokenCount).
			Dur("duration", duration).
			Msg("Model request completed")
	}

	return &genResp, nil
}

// GenerateText sends one prompt and returns the first candidate's text.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty text in model response")
	}
	return text, nil
}

// GenerateWithRetry retries transient failures with quadratic backoff.
// A disabled client fails immediately.
func (c *Client) GenerateWithRetry(ctx context.Context, prompt string) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying model request")

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := c.GenerateText(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("model request failed after %d attempts: %w", c.maxRetries, lastErr)
}

// ParseJSONResponse decodes a JSON object from model output, stripping
// markdown code fences when the model wraps the payload in one.
func ParseJSONResponse(content string, target interface{}) error {
	content = extractJSONFromMarkdown(content)

	if err := json.Unmarshal([]byte(content), target); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// extractJSONFromMarkdown extracts JSON from ```json ... ``` blocks.
func extractJSONFromMarkdown(content string) string {
	start := -1

	contentBytes := []byte(content)
	if idx := bytes.Index(contentBytes, []byte("```json")); idx >= 0 {
		start = idx + 7
	} else if idx := bytes.Index(contentBytes, []byte("```")); idx >= 0 {
		start = idx + 3
	}

	if start >= 0 {
		if idx := bytes.Index(contentBytes[start:], []byte("```")); idx >= 0 {
			content = content[start : start+idx]
		}
	}

	return string(bytes.TrimSpace([]byte(content)))
}
