package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/policheck/internal/model"
)

// NewProvider creates a new LLM provider based on configuration
func NewProvider(config Config) (Provider, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		// No provider configured - return nil (LLM disabled)
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, ollama)", config.Provider)
	}
}

// ConfigFromModel converts the run configuration to llm.Config
func ConfigFromModel(cfg *model.Config) Config {
	var hostRates map[string]HostRate
	if len(cfg.RateLimiting.Hosts) > 0 {
		hostRates = make(map[string]HostRate, len(cfg.RateLimiting.Hosts))
		for _, hr := range cfg.RateLimiting.Hosts {
			hostRates[hr.Host] = HostRate{RequestsPerSecond: hr.RequestsPerSecond, Burst: hr.BurstSize}
		}
	}

	return Config{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.Model,
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Timeout:           cfg.LLM.Timeout,
		StrictEvidence:    cfg.LLM.StrictEvidence,
		MaxTokens:         cfg.LLM.MaxTokens,
		CacheDir:          cfg.LLM.CacheDir,
		CacheTTL:          cfg.LLM.CacheTTL,
		RequestsPerSecond: cfg.RateLimiting.RequestsPerSecond,
		Burst:             cfg.RateLimiting.BurstSize,
		HostRates:         hostRates,
		HTTPProxy:         cfg.LLM.HTTPProxy,
		HTTPSProxy:        cfg.LLM.HTTPSProxy,
		NoProxy:           cfg.LLM.NoProxy,
	}
}
