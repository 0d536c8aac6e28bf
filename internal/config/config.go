package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderNone      = "none"
)

type Config struct {
	Port      int    `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	APIKey    string `yaml:"api_key"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Extraction Extraction `yaml:"extraction"`

	// Memory behaviour
	TranscriptExchanges int  `yaml:"transcript_exchanges"`
	StripPrivate        bool `yaml:"strip_private"`
	ExtractOnExchange   bool `yaml:"extract_on_exchange"`
	DefaultContextLimit int  `yaml:"default_context_limit"`
	TagCacheEnabled     bool `yaml:"tag_cache_enabled"`

	// MCP adapter
	MemoryServerURL string `yaml:"memory_server_url"`
	MemoryUserID    string `yaml:"memory_user_id"`
}

// Extraction selects and tunes the fact-extraction backend.
type Extraction struct {
	Provider         string  `yaml:"provider"`
	Model            string  `yaml:"model"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
	TimeoutSeconds   int     `yaml:"timeout_seconds"`
	AnthropicAPIKey  string  `yaml:"anthropic_api_key"`
	AnthropicBaseURL string  `yaml:"anthropic_base_url"`
	OpenAIAPIKey     string  `yaml:"openai_api_key"`
	OpenAIBaseURL    string  `yaml:"openai_base_url"`
	OllamaBaseURL    string  `yaml:"ollama_base_url"`
}

// Timeout returns the per-call extraction timeout.
func (e Extraction) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// APIKey returns the key for the selected hosted provider.
func (e Extraction) APIKey() string {
	switch e.Provider {
	case ProviderAnthropic:
		return e.AnthropicAPIKey
	case ProviderOpenAI:
		return e.OpenAIAPIKey
	}
	return ""
}

// BaseURL returns the endpoint override for the selected provider.
func (e Extraction) BaseURL() string {
	switch e.Provider {
	case ProviderAnthropic:
		return e.AnthropicBaseURL
	case ProviderOpenAI:
		return e.OpenAIBaseURL
	case ProviderOllama:
		return e.OllamaBaseURL
	}
	return ""
}

func defaults() *Config {
	return &Config{
		Port:      8741,
		DBPath:    "/data/usermemory.db",
		LogLevel:  "info",
		LogFormat: "json",
		Extraction: Extraction{
			Provider:       ProviderAnthropic,
			Model:          "claude-3-5-haiku-latest",
			MaxTokens:      2000,
			Temperature:    0.1,
			TimeoutSeconds: 60,
			OllamaBaseURL:  "http://localhost:11434",
		},
		TranscriptExchanges: 10,
		StripPrivate:        true,
		ExtractOnExchange:   true,
		DefaultContextLimit: 5,
		TagCacheEnabled:     true,
		MemoryServerURL:     "http://localhost:8741",
	}
}

// Load builds the config from defaults, the optional MEMORY_CONFIG_FILE and
// then environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("MEMORY_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.DBPath = envStr("MEMORY_DB_PATH", c.DBPath)
	c.APIKey = envStr("API_KEY", c.APIKey)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envStr("LOG_FORMAT", c.LogFormat)

	e := &c.Extraction
	e.Provider = strings.ToLower(envStr("EXTRACTION_PROVIDER", e.Provider))
	e.Model = envStr("EXTRACTION_MODEL", e.Model)
	e.MaxTokens = envInt("EXTRACTION_MAX_TOKENS", e.MaxTokens)
	e.Temperature = envFloat("EXTRACTION_TEMPERATURE", e.Temperature)
	e.TimeoutSeconds = envInt("EXTRACTION_TIMEOUT_SECONDS", e.TimeoutSeconds)
	e.AnthropicAPIKey = envStr("ANTHROPIC_API_KEY", e.AnthropicAPIKey)
	e.AnthropicBaseURL = envStr("ANTHROPIC_BASE_URL", e.AnthropicBaseURL)
	e.OpenAIAPIKey = envStr("OPENAI_API_KEY", e.OpenAIAPIKey)
	e.OpenAIBaseURL = envStr("OPENAI_BASE_URL", e.OpenAIBaseURL)
	e.OllamaBaseURL = envStr("OLLAMA_BASE_URL", e.OllamaBaseURL)

	c.TranscriptExchanges = envInt("TRANSCRIPT_EXCHANGES", c.TranscriptExchanges)
	c.StripPrivate = envBool("STRIP_PRIVATE", c.StripPrivate)
	c.ExtractOnExchange = envBool("EXTRACT_ON_EXCHANGE", c.ExtractOnExchange)
	c.DefaultContextLimit = envInt("DEFAULT_CONTEXT_LIMIT", c.DefaultContextLimit)
	c.TagCacheEnabled = envBool("TAG_CACHE_ENABLED", c.TagCacheEnabled)
	c.MemoryServerURL = envStr("MEMORY_SERVER_URL", c.MemoryServerURL)
	c.MemoryUserID = envStr("MEMORY_USER_ID", c.MemoryUserID)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("MEMORY_DB_PATH must not be empty")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}

	e := c.Extraction
	switch e.Provider {
	case ProviderAnthropic, ProviderOpenAI:
		if e.APIKey() == "" {
			return fmt.Errorf("an API key is required for extraction provider %q", e.Provider)
		}
	case ProviderOllama:
		if e.OllamaBaseURL == "" {
			return errors.New("OLLAMA_BASE_URL must not be empty")
		}
	case ProviderNone:
	default:
		return fmt.Errorf("unknown EXTRACTION_PROVIDER %q", e.Provider)
	}
	if e.Provider != ProviderNone {
		if e.Model == "" {
			return errors.New("EXTRACTION_MODEL must not be empty")
		}
		if e.MaxTokens < 1 {
			return fmt.Errorf("EXTRACTION_MAX_TOKENS must be positive, got %d", e.MaxTokens)
		}
		if e.TimeoutSeconds < 1 {
			return fmt.Errorf("EXTRACTION_TIMEOUT_SECONDS must be positive, got %d", e.TimeoutSeconds)
		}
	}

	if c.TranscriptExchanges < 1 {
		return fmt.Errorf("TRANSCRIPT_EXCHANGES must be positive, got %d", c.TranscriptExchanges)
	}
	if c.DefaultContextLimit < 1 || c.DefaultContextLimit > 50 {
		return fmt.Errorf("DEFAULT_CONTEXT_LIMIT must be between 1 and 50, got %d", c.DefaultContextLimit)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}
