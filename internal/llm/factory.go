package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonbmost/acquisition-assistant/internal/config"
)

// ParseProviderModel parses "provider:model" or just "provider" from a flag value.
// Returns (provider, model, error). Model will be empty if not specified.
func ParseProviderModel(s string) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("invalid provider format: %q", s)
	}
	provider := config.NormalizeProvider(parts[0])
	model := ""
	if len(parts) == 2 {
		model = strings.TrimSpace(parts[1])
	}
	for _, name := range ProviderNames() {
		if provider == name {
			return provider, model, nil
		}
	}
	return "", "", fmt.Errorf("unknown provider: %s", provider)
}

// ProviderNames lists the supported providers.
func ProviderNames() []string {
	return []string{config.ProviderClaude, config.ProviderGemini, config.ProviderOpenAI}
}

// NewProvider creates the configured provider. Providers are wrapped with
// retry for rate limits and transient errors, and with an upstream rate
// limit when one is configured.
func NewProvider(cfg *config.Config) (Provider, error) {
	return NewProviderByName(cfg, cfg.Provider)
}

// NewProviderByName creates a provider by name from the config.
func NewProviderByName(cfg *config.Config, name string) (Provider, error) {
	pc := cfg.ProviderSettings(name)
	if pc == nil {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if pc.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingAPIKey)
	}

	var p Provider
	switch config.NormalizeProvider(name) {
	case config.ProviderClaude:
		p = NewAnthropicProvider(pc.APIKey, pc.Model, pc.BaseURL, pc.MaxOutputTokens)
	case config.ProviderGemini:
		p = NewGeminiProvider(pc.APIKey, pc.Model, pc.BaseURL, pc.MaxOutputTokens)
	case config.ProviderOpenAI:
		p = NewOpenAIProvider(pc.APIKey, pc.Model, pc.BaseURL, pc.MaxOutputTokens)
	}

	if pc.RatePerMinute > 0 {
		p = WithRateLimit(p, pc.RatePerMinute)
	}
	return WrapWithRetry(p, retryConfigFrom(cfg.Retry)), nil
}

func retryConfigFrom(rc config.RetryConfig) RetryConfig {
	out := DefaultRetryConfig()
	if rc.MaxAttempts > 0 {
		out.MaxAttempts = rc.MaxAttempts
	}
	if rc.BaseDelay > 0 {
		out.BaseBackoff = rc.BaseDelay
	}
	if rc.MaxDelay > 0 {
		out.MaxBackoff = rc.MaxDelay
	}
	if out.MaxBackoff < out.BaseBackoff {
		out.MaxBackoff = out.BaseBackoff * time.Duration(out.MaxAttempts)
	}
	return out
}
