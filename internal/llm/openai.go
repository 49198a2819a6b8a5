package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/policheck/internal/util"
	"github.com/ppiankov/policheck/internal/worker"
)

// DefaultOllamaURL is Ollama's OpenAI-compatible endpoint.
const DefaultOllamaURL = "http://localhost:11434/v1"

var (
	tagPattern = regexp.MustCompile(`\[(S\d+)\]`)
	urlPattern = regexp.MustCompile(`https?://[^\s\)]+`)
)

// OpenAIProvider talks to any OpenAI-compatible chat completions API,
// including a local Ollama.
type OpenAIProvider struct {
	name     string
	client   *openai.Client
	config   Config
	endpoint string
	limiter  *worker.Limiter
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return newProvider("openai", config), nil
}

// NewOllamaProvider creates a provider for a local Ollama server. No API
// key is needed.
func NewOllamaProvider(config Config) (*OpenAIProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultOllamaURL
	}
	if config.APIKey == "" {
		config.APIKey = "ollama"
	}
	if config.Model == "" {
		config.Model = "llama3.1"
	}
	return newProvider("ollama", config), nil
}

func newProvider(name string, config Config) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{
		Transport: &http.Transport{
			Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy),
		},
	}

	p := &OpenAIProvider{
		name:     name,
		client:   openai.NewClientWithConfig(clientConfig),
		config:   config,
		endpoint: clientConfig.BaseURL,
	}
	if config.RequestsPerSecond > 0 {
		p.limiter = worker.NewLimiter(config.RequestsPerSecond, config.Burst)
		for host, hr := range config.HostRates {
			p.limiter.SetHostRate(host, hr.RequestsPerSecond, hr.Burst)
		}
	}
	return p
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// IsAvailable checks if the provider is properly configured
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	// Simple check: try to list models (lightweight API call)
	_, err := p.client.ListModels(ctx)
	if err != nil {
		// Surface the cause; a bad key or a stopped Ollama look the same otherwise
		fmt.Fprintf(os.Stderr, "%s API check failed: %v\n", p.name, err)
		return false
	}
	return true
}

// Summarize generates a summary using the Chat Completions API
func (p *OpenAIProvider) Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error) {
	// Build prompt if not provided
	prompt := req.Prompt
	if prompt == "" {
		prompt = BuildPrompt(req.Report, req.EvidenceTags)
	}

	// Determine model
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	if model == "" {
		model = openai.GPT4oMini // Default to gpt-4o-mini
	}

	// Determine max tokens
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 1000
	}

	// Create timeout context
	timeout := time.Duration(p.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctxWithTimeout, p.endpoint); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a helpful assistant that summarizes policheck reports with strict adherence to evidence constraints.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.3, // Lower temperature for more focused, factual output
	}

	resp, err := p.client.CreateChatCompletion(ctxWithTimeout, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", p.name, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from %s", p.name)
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	cited := extractTags(summary)

	// CRITICAL: Verify strict evidence mode
	if p.config.StrictEvidence {
		if err := verifyCitations(summary, cited, req.EvidenceTags); err != nil {
			return nil, err
		}
	}

	if resp.Model != "" {
		model = resp.Model
	}

	return &SummarizeResponse{
		Summary:    summary,
		Cited:      cited,
		Model:      model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// verifyCitations fails when the summary cites a tag outside allowed or
// any URL at all; the prompt carries none.
func verifyCitations(summary string, cited, allowed []string) error {
	for _, tag := range cited {
		if !contains(allowed, tag) {
			return fmt.Errorf("CITATION LEAK: LLM cited unknown statement: [%s]", tag)
		}
	}
	if urls := extractURLs(summary); len(urls) > 0 {
		return fmt.Errorf("CITATION LEAK: LLM cited disallowed URL: %s", urls[0])
	}
	return nil
}

// extractTags returns the distinct statement tags cited in text, in order
// of first appearance.
func extractTags(text string) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			unique = append(unique, m[1])
		}
	}
	return unique
}

// extractURLs extracts all URLs from text using regex
func extractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)

	// Deduplicate
	seen := make(map[string]bool)
	var unique []string
	for _, url := range matches {
		// Clean up trailing punctuation
		url = strings.TrimRight(url, ".,;:!?")
		if !seen[url] {
			seen[url] = true
			unique = append(unique, url)
		}
	}

	return unique
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
