package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Provider names accepted by the provider key.
const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	Provider  string          `mapstructure:"provider" yaml:"provider"`
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	Assistant AssistantConfig `mapstructure:"assistant" yaml:"assistant"`
	Serve     ServeConfig     `mapstructure:"serve" yaml:"serve"`
	Export    ExportConfig    `mapstructure:"export" yaml:"export"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge" yaml:"knowledge"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
}

type ProvidersConfig struct {
	Claude ProviderConfig `mapstructure:"claude" yaml:"claude"`
	Gemini ProviderConfig `mapstructure:"gemini" yaml:"gemini"`
	OpenAI ProviderConfig `mapstructure:"openai" yaml:"openai"`
}

type ProviderConfig struct {
	Model           string `mapstructure:"model" yaml:"model"`
	APIKey          string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL         string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	MaxOutputTokens int    `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	// Requests per minute sent upstream (0 = unlimited)
	RatePerMinute int `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
}

// AssistantConfig holds the prompt material injected at process start.
type AssistantConfig struct {
	SystemInstruction string   `mapstructure:"system_instruction" yaml:"system_instruction,omitempty"`
	TrustedDomains    []string `mapstructure:"trusted_domains" yaml:"trusted_domains"`
}

type ServeConfig struct {
	Host          string        `mapstructure:"host" yaml:"host"`
	Port          int           `mapstructure:"port" yaml:"port"`
	Token         string        `mapstructure:"token" yaml:"token,omitempty"`
	CORSOrigins   []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	RatePerMinute int           `mapstructure:"rate_per_minute" yaml:"rate_per_minute"` // per client, 0 = unlimited
	SessionTTL    time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	MaxSessions   int           `mapstructure:"max_sessions" yaml:"max_sessions"`
}

type ExportConfig struct {
	PDFMargin     float64 `mapstructure:"pdf_margin" yaml:"pdf_margin"`
	PDFLineHeight float64 `mapstructure:"pdf_line_height" yaml:"pdf_line_height"`
	PDFFontSize   float64 `mapstructure:"pdf_font_size" yaml:"pdf_font_size"`
}

type KnowledgeConfig struct {
	Dir               string `mapstructure:"dir" yaml:"dir"`
	MaxDocumentLength int    `mapstructure:"max_document_length" yaml:"max_document_length"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path,omitempty"` // empty = XDG data dir
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// DefaultTrustedDomains are the sources the assistant prefers for web lookups.
var DefaultTrustedDomains = []string{
	"wiley.law",
	"acquisition.gov",
	"fam.state.gov",
	"dodsbirsttr.mil",
	"travel.state.gov",
	"whitehouse.gov",
	"dodcio.defense.gov",
	"section508.gov",
	"gsa.gov",
	"sba.gov",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderClaude)
	v.SetDefault("providers.claude.model", "claude-sonnet-4-20250514")
	v.SetDefault("providers.claude.max_output_tokens", 8192)
	v.SetDefault("providers.gemini.model", "gemini-2.5-flash")
	v.SetDefault("providers.gemini.max_output_tokens", 8192)
	v.SetDefault("providers.openai.model", "gpt-4o")
	v.SetDefault("providers.openai.max_output_tokens", 8192)
	v.SetDefault("assistant.trusted_domains", DefaultTrustedDomains)
	v.SetDefault("serve.host", "127.0.0.1")
	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.rate_per_minute", 30)
	v.SetDefault("serve.session_ttl", 30*time.Minute)
	v.SetDefault("serve.max_sessions", 1000)
	v.SetDefault("export.pdf_margin", 40)
	v.SetDefault("export.pdf_line_height", 16)
	v.SetDefault("export.pdf_font_size", 12)
	v.SetDefault("knowledge.dir", "knowledge-base")
	v.SetDefault("knowledge.max_document_length", 15000)
	v.SetDefault("history.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
}

// Load reads config.yaml from the config directory or the working
// directory. A missing file is not an error.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads an explicit config file.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ACQASSIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveClaudeCredentials(&cfg.Providers.Claude)
	resolveGeminiCredentials(&cfg.Providers.Gemini)
	resolveOpenAICredentials(&cfg.Providers.OpenAI)
	cfg.Serve.Token = expandEnv(cfg.Serve.Token)
	cfg.Provider = NormalizeProvider(cfg.Provider)

	return &cfg, nil
}

// NormalizeProvider maps aliases onto the canonical provider names.
func NormalizeProvider(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "anthropic":
		return ProviderClaude
	case "google":
		return ProviderGemini
	default:
		return n
	}
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = NormalizeProvider(provider)
	}
	if model != "" {
		if pc := c.Active(); pc != nil {
			pc.Model = model
		}
	}
}

// Active returns the settings of the selected provider, or nil if the
// provider is unknown.
func (c *Config) Active() *ProviderConfig {
	return c.ProviderSettings(c.Provider)
}

// ProviderSettings returns the settings for a named provider.
func (c *Config) ProviderSettings(name string) *ProviderConfig {
	switch NormalizeProvider(name) {
	case ProviderClaude:
		return &c.Providers.Claude
	case ProviderGemini:
		return &c.Providers.Gemini
	case ProviderOpenAI:
		return &c.Providers.OpenAI
	}
	return nil
}

// resolveClaudeCredentials tries ANTHROPIC_API_KEY, then a deployment
// specific key chosen by VERCEL_ENV or NODE_ENV, then ANTHROPIC_API_KEY_DEFAULT.
func resolveClaudeCredentials(cfg *ProviderConfig) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey != "" {
		return
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.APIKey = key
		return
	}
	for _, name := range deploymentKeyNames() {
		if key := os.Getenv(name); key != "" {
			cfg.APIKey = key
			return
		}
	}
	cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY_DEFAULT")
}

func deploymentKeyNames() []string {
	env := strings.ToLower(os.Getenv("VERCEL_ENV"))
	if env == "" {
		env = strings.ToLower(os.Getenv("NODE_ENV"))
	}
	switch env {
	case "production", "prod":
		return []string{"ANTHROPIC_API_KEY_PROD", "ANTHROPIC_API_KEY_PRODUCTION"}
	case "preview":
		return []string{"ANTHROPIC_API_KEY_PREVIEW"}
	case "development", "dev":
		return []string{"ANTHROPIC_API_KEY_DEV"}
	}
	return nil
}

func resolveGeminiCredentials(cfg *ProviderConfig) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
}

func resolveOpenAICredentials(cfg *ProviderConfig) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.BaseURL = expandEnv(cfg.BaseURL)
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		if len(s) <= 8 {
			return "****"
		}
		return s[:4] + "****"
	}
	c.Providers.Claude.APIKey = mask(c.Providers.Claude.APIKey)
	c.Providers.Gemini.APIKey = mask(c.Providers.Gemini.APIKey)
	c.Providers.OpenAI.APIKey = mask(c.Providers.OpenAI.APIKey)
	c.Serve.Token = mask(c.Serve.Token)
	return c
}

// YAML renders the configuration with secrets masked.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

// GetConfigDir returns the XDG config directory for acqassist.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "acqassist"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "acqassist"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// GetDataDir returns the XDG data directory for acqassist.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "acqassist"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".local", "share", "acqassist"), nil
}
