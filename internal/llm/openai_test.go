package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

func TestOpenAIProvider_Summarize_Success(t *testing.T) {
	// Mock server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify request
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}

		// Return success response
		resp := openai.ChatCompletionResponse{
			ID:      "chatcmpl-123",
			Object:  "chat.completion",
			Created: 1677652288,
			Model:   "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{
				{
					Index: 0,
					Message: openai.ChatCompletionMessage{
						Role:    "assistant",
						Content: "The email flow is disclosed by [S1]. Nothing covers location [S1].",
					},
					FinishReason: "stop",
				},
			},
			Usage: openai.Usage{
				TotalTokens: 100,
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	// Create provider
	config := Config{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		Model:          "gpt-4o-mini",
		Timeout:        5,
		StrictEvidence: true,
	}
	provider, err := NewOpenAIProvider(config)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	// Test Summarize
	req := SummarizeRequest{
		Report:       sampleReport(),
		EvidenceTags: []string{"S1", "S2"},
	}

	resp, err := provider.Summarize(context.Background(), req)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if !strings.HasPrefix(resp.Summary, "The email flow is disclosed by [S1].") {
		t.Errorf("Unexpected summary: %s", resp.Summary)
	}
	if len(resp.Cited) != 1 || resp.Cited[0] != "S1" {
		t.Errorf("Unexpected cited tags: %v", resp.Cited)
	}
	if resp.TokensUsed != 100 {
		t.Errorf("Expected 100 tokens, got %d", resp.TokensUsed)
	}
}

func TestOpenAIProvider_Summarize_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "Internal Server Error", "type": "server_error"}}`))
	}))
	defer server.Close()

	config := Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5,
	}
	provider, err := NewOpenAIProvider(config)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	req := SummarizeRequest{
		Report: sampleReport(),
	}

	_, err = provider.Summarize(context.Background(), req)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}

func TestOpenAIProvider_Summarize_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "Rate limit exceeded", "type": "rate_limit_error"}}`))
	}))
	defer server.Close()

	config := Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5,
	}
	provider, err := NewOpenAIProvider(config)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	req := SummarizeRequest{
		Report: sampleReport(),
	}

	_, err = provider.Summarize(context.Background(), req)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}

func TestOpenAIProvider_Summarize_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{malformed json`))
	}))
	defer server.Close()

	config := Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5,
	}
	provider, err := NewOpenAIProvider(config)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	req := SummarizeRequest{
		Report: sampleReport(),
	}

	_, err = provider.Summarize(context.Background(), req)
	if err == nil {
		t.Fatal("Expected error for malformed JSON, got nil")
	}
}

func TestOpenAIProvider_Summarize_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond) // Longer than the caller's deadline
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// config.Timeout is whole seconds, so the caller's context sets the deadline
	config := Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 1,
	}
	provider, err := NewOpenAIProvider(config)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	req := SummarizeRequest{
		Report: sampleReport(),
	}

	_, err = provider.Summarize(ctx, req)
	if err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
}

func TestOpenAIProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"data": [{"id": "gpt-4o-mini"}]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	config := Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
	}
	provider, err := NewOpenAIProvider(config)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be true")
	}

	// Test failure
	server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be false on error")
	}
}

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openai.ChatCompletionResponse{
			Model: "test-model",
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIProvider_Summarize_CitationLeak(t *testing.T) {
	tests := []struct {
		name    string
		content string
		strict  bool
		wantErr string
	}{
		{"unknown tag", "Per [S1] and [S9] the app collects email.", true, "[S9]"},
		{"url", "See https://example.com/policy for details [S1].", true, "https://example.com/policy"},
		{"lenient mode", "Per [S9] the app collects email.", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := chatServer(t, tt.content)
			defer server.Close()

			provider, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: server.URL, StrictEvidence: tt.strict})
			if err != nil {
				t.Fatalf("Failed to create provider: %v", err)
			}

			_, err = provider.Summarize(context.Background(), SummarizeRequest{
				Report:       sampleReport(),
				EvidenceTags: []string{"S1", "S2"},
			})
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), "CITATION LEAK") || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected citation leak naming %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestOpenAIProvider_RateLimited(t *testing.T) {
	server := chatServer(t, "ok")
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{
		APIKey:            "k",
		BaseURL:           server.URL,
		RequestsPerSecond: 0.01,
		Burst:             1,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if _, err := provider.Summarize(context.Background(), SummarizeRequest{Report: sampleReport()}); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = provider.Summarize(ctx, SummarizeRequest{Report: sampleReport()})
	if err == nil || !strings.Contains(err.Error(), "rate limit wait") {
		t.Errorf("Expected rate limit error, got %v", err)
	}
}

func TestOpenAIProvider_HostRateOverride(t *testing.T) {
	server := chatServer(t, "ok")
	defer server.Close()

	tests := []struct {
		name          string
		hostRates     map[string]HostRate
		wantThrottled bool
	}{
		{name: "default rate", wantThrottled: false},
		{name: "override for the provider host", hostRates: map[string]HostRate{server.URL: {RequestsPerSecond: 0.01, Burst: 1}}, wantThrottled: true},
		{name: "override for another host", hostRates: map[string]HostRate{"api.openai.com": {RequestsPerSecond: 0.01, Burst: 1}}, wantThrottled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewOpenAIProvider(Config{
				APIKey:            "k",
				BaseURL:           server.URL,
				RequestsPerSecond: 1000,
				Burst:             10,
				HostRates:         tt.hostRates,
			})
			if err != nil {
				t.Fatalf("Failed to create provider: %v", err)
			}

			if _, err := provider.Summarize(context.Background(), SummarizeRequest{Report: sampleReport()}); err != nil {
				t.Fatalf("first request failed: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err = provider.Summarize(ctx, SummarizeRequest{Report: sampleReport()})
			throttled := err != nil && strings.Contains(err.Error(), "rate limit wait")
			if throttled != tt.wantThrottled {
				t.Errorf("throttled = %v, want %v (err %v)", throttled, tt.wantThrottled, err)
			}
		})
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{Provider: ""})
	if err != nil || p != nil {
		t.Errorf("Expected disabled provider, got %v (%v)", p, err)
	}

	p, err = NewProvider(Config{Provider: "Ollama"})
	if err != nil {
		t.Fatalf("Expected ollama provider, got %v", err)
	}
	op := p.(*OpenAIProvider)
	if op.Name() != "ollama" || op.endpoint != DefaultOllamaURL {
		t.Errorf("Unexpected ollama provider: name=%s endpoint=%s", op.Name(), op.endpoint)
	}

	if _, err := NewProvider(Config{Provider: "openai"}); err == nil {
		t.Error("Expected error for openai without API key")
	}

	if _, err := NewProvider(Config{Provider: "anthropic"}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestExtractTags(t *testing.T) {
	got := extractTags("[S2] says yes, [S10] says no, and [S2] again; S3 is not bracketed.")
	want := []string{"S2", "S10"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, got[i])
		}
	}
}
