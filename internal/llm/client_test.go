package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func geminiOK(text string) string {
	resp := GenerateResponse{
		Candidates: []Candidate{
			{
				Content:      Content{Role: "model", Parts: []Part{{Text: text}}},
				FinishReason: "STOP",
			},
		},
		UsageMetadata: &UsageMetadata{PromptTokenCount: 50, CandidatesTokenCount: 20, TotalTokenCount: 70},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestClient_Generate(t *testing.T) {
	var gotPath, gotKey string
	var gotRequest GenerateRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(geminiOK(`{"sentiment_score": 0.4}`)))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Timeout:  5 * time.Second,
	})

	resp, err := client.Generate(context.Background(), "Analyze this")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if gotPath != "/models/gemini-2.0-flash:generateContent" {
		t.Errorf("Unexpected path: %s", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("API key not passed as query parameter, got %q", gotKey)
	}

	if len(gotRequest.Contents) != 1 || len(gotRequest.Contents[0].Parts) != 1 {
		t.Fatalf("Unexpected contents shape: %+v", gotRequest.Contents)
	}
	if gotRequest.Contents[0].Parts[0].Text != "Analyze this" {
		t.Errorf("Prompt not carried in request: %q", gotRequest.Contents[0].Parts[0].Text)
	}

	gc := gotRequest.GenerationConfig
	if gc == nil {
		t.Fatal("Expected generationConfig in request")
	}
	if gc.Temperature != 0.3 || gc.TopP != 0.8 || gc.TopK != 40 || gc.MaxOutputTokens != 500 {
		t.Errorf("Defaults not applied: %+v", gc)
	}

	if resp.Text() != `{"sentiment_score": 0.4}` {
		t.Errorf("Unexpected response text: %q", resp.Text())
	}
}

func TestClient_GenerateErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantInErr string
	}{
		{
			name:      "API error envelope",
			status:    http.StatusBadRequest,
			body:      `{"error": {"code": 400, "message": "API key not valid", "status": "INVALID_ARGUMENT"}}`,
			wantInErr: "API key not valid",
		},
		{
			name:      "Non-JSON error body",
			status:    http.StatusInternalServerError,
			body:      "upstream exploded",
			wantInErr: "status 500",
		},
		{
			name:      "No candidates",
			status:    http.StatusOK,
			body:      `{"candidates": []}`,
			wantInErr: "no candidates",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(ClientConfig{Endpoint: server.URL, APIKey: "k", Timeout: 5 * time.Second})

			_, err := client.Generate(context.Background(), "prompt")
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantInErr) {
				t.Errorf("Error %q does not mention %q", err.Error(), tt.wantInErr)
			}
		})
	}
}

func TestClient_Disabled(t *testing.T) {
	client := NewClient(ClientConfig{})

	if client.Enabled() {
		t.Error("Client without API key must report disabled")
	}

	_, err := client.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected ErrDisabled, got %v", err)
	}

	_, err = client.GenerateWithRetry(context.Background(), "prompt")
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected ErrDisabled from retry path, got %v", err)
	}
}

func TestClient_GenerateWithRetry(t *testing.T) {
	tests := []struct {
		name          string
		attempts      []int // status per attempt, last repeats
		maxRetries    int
		expectSuccess bool
		wantCalls     int
	}{
		{
			name:          "Success on first attempt",
			attempts:      []int{http.StatusOK},
			maxRetries:    2,
			expectSuccess: true,
			wantCalls:     1,
		},
		{
			name:          "Success after retry",
			attempts:      []int{http.StatusTooManyRequests, http.StatusOK},
			maxRetries:    2,
			expectSuccess: true,
			wantCalls:     2,
		},
		{
			name:          "Fail after max retries",
			attempts:      []int{http.StatusServiceUnavailable},
			maxRetries:    1,
			expectSuccess: false,
			wantCalls:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				idx := calls
				if idx >= len(tt.attempts) {
					idx = len(tt.attempts) - 1
				}
				calls++

				status := tt.attempts[idx]
				w.WriteHeader(status)
				if status == http.StatusOK {
					_, _ = w.Write([]byte(geminiOK("ok")))
				} else {
					_, _ = w.Write([]byte(`{"error": {"code": 429, "message": "quota", "status": "RESOURCE_EXHAUSTED"}}`))
				}
			}))
			defer server.Close()

			client := NewClient(ClientConfig{
				Endpoint:   server.URL,
				APIKey:     "k",
				Timeout:    5 * time.Second,
				MaxRetries: tt.maxRetries,
			})

			text, err := client.GenerateWithRetry(context.Background(), "prompt")

			if tt.expectSuccess {
				if err != nil {
					t.Fatalf("Expected success, got error: %v", err)
				}
				if text != "ok" {
					t.Errorf("Unexpected text: %q", text)
				}
			} else if err == nil {
				t.Error("Expected error, got nil")
			}

			if calls != tt.wantCalls {
				t.Errorf("Server saw %d calls, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestClient_RetryHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "down"}}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL, APIKey: "k", MaxRetries: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.GenerateWithRetry(ctx, "prompt")
	if err == nil {
		t.Fatal("Expected error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Retry loop ignored context cancellation, took %v", elapsed)
	}
}

func TestParseJSONResponse(t *testing.T) {
	type decision struct {
		Action     string  `json:"action"`
		Confidence float64 `json:"confidence"`
	}

	tests := []struct {
		name       string
		content    string
		wantAction string
		wantError  bool
	}{
		{
			name:       "Plain JSON",
			content:    `{"action": "BUY", "confidence": 0.8}`,
			wantAction: "BUY",
		},
		{
			name:       "JSON code fence",
			content:    "```json\n{\"action\": \"SELL\", \"confidence\": 0.7}\n```",
			wantAction: "SELL",
		},
		{
			name:       "Bare code fence",
			content:    "```\n{\"action\": \"HOLD\", \"confidence\": 0.2}\n```",
			wantAction: "HOLD",
		},
		{
			name:       "Fence with surrounding prose",
			content:    "Here is my analysis:\n```json\n{\"action\": \"BUY\", \"confidence\": 0.9}\n```\nLet me know.",
			wantAction: "BUY",
		},
		{
			name:      "Not JSON at all",
			content:   "I cannot answer that.",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d decision
			err := ParseJSONResponse(tt.content, &d)

			if tt.wantError {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if d.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", d.Action, tt.wantAction)
			}
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(ClientConfig{APIKey: "k"})

	if client.model != "gemini-2.0-flash" {
		t.Errorf("Default model = %q", client.model)
	}
	if client.temperature != 0.3 || client.topP != 0.8 || client.topK != 40 {
		t.Errorf("Default sampling = %v/%v/%v", client.temperature, client.topP, client.topK)
	}
	if client.maxTokens != 500 {
		t.Errorf("Default max tokens = %d", client.maxTokens)
	}
	if client.maxRetries != 3 {
		t.Errorf("Default retries = %d", client.maxRetries)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("Default timeout = %v", client.httpClient.Timeout)
	}

	custom := NewClient(ClientConfig{
		APIKey:     "k",
		Model:      "gemini-2.5-pro",
		Timeout:    time.Minute,
		MaxRetries: 1,
	})
	if custom.model != "gemini-2.5-pro" || custom.httpClient.Timeout != time.Minute || custom.maxRetries != 1 {
		t.Error("Overrides not applied")
	}
}
