package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Model providers.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Text sources.
const (
	SourceSefaria = "sefaria"
	SourceFile    = "file"
)

// TierConfig configures one model tier.
type TierConfig struct {
	Provider          string        `yaml:"provider" validate:"oneof=gemini anthropic"`
	Model             string        `yaml:"model" validate:"required"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxTokens         int           `yaml:"max_tokens" validate:"min=256,max=65536"`
	InputCostPerMTok  float64       `yaml:"input_cost_per_mtok" validate:"min=0"`
	OutputCostPerMTok float64       `yaml:"output_cost_per_mtok" validate:"min=0"`
}

// Config holds all application configuration.
type Config struct {
	// Database
	DatabasePath string `validate:"required"`

	// VecLite
	VecLitePath   string // Path to VecLite database (default: data/instances.veclite)
	VecLiteConfig string // Optional veclite.yaml path

	// Model APIs
	GeminiAPIKey    string
	AnthropicAPIKey string

	// Tiers
	Primary    TierConfig
	Escalation TierConfig
	TiersFile  string

	// Controller budgets
	MaxAttempts       int `validate:"min=1,max=50"`
	EscalationRetries int `validate:"min=1,max=10,ltfield=MaxAttempts"`
	// CallRetries is the number of calls per attempt for transient errors.
	CallRetries int `validate:"min=1,max=10"`

	// Runner
	Workers   int `validate:"min=1,max=64"`
	BatchSize int `validate:"min=1,max=50"`

	// Source text
	Source          string `validate:"oneof=sefaria file"`
	SefariaURL      string `validate:"omitempty,url"`
	VersesFile      string
	SourceCacheSize int `validate:"min=1"`

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`

	// Follow-up and metrics
	FollowupPath string
	MetricsAddr  string
}

// Load reads configuration from environment variables.
// It automatically loads .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:    getEnv("DATABASE_PATH", "data/figlang.db"),
		VecLitePath:     getEnv("VECLITE_PATH", "data/instances.veclite"),
		VecLiteConfig:   getEnv("VECLITE_CONFIG", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		TiersFile:       getEnv("TIERS_FILE", ""),
		Source:          getEnv("SOURCE", SourceSefaria),
		SefariaURL:      getEnv("SEFARIA_URL", "https://www.sefaria.org"),
		VersesFile:      getEnv("VERSES_FILE", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		FollowupPath:    getEnv("FOLLOWUP_PATH", "data/followup.jsonl"),
		MetricsAddr:     getEnv("METRICS_ADDR", ""),
		Primary: TierConfig{
			Provider:          getEnv("PRIMARY_PROVIDER", ProviderGemini),
			Model:             getEnv("PRIMARY_MODEL", "gemini-2.5-flash"),
			MaxTokens:         8192,
			InputCostPerMTok:  0.30,
			OutputCostPerMTok: 2.50,
		},
		Escalation: TierConfig{
			Provider:          getEnv("ESCALATION_PROVIDER", ProviderGemini),
			Model:             getEnv("ESCALATION_MODEL", "gemini-2.5-pro"),
			MaxTokens:         16384,
			InputCostPerMTok:  1.25,
			OutputCostPerMTok: 10.00,
		},
	}

	timeout, err := time.ParseDuration(getEnv("ATTEMPT_TIMEOUT", "90s"))
	if err != nil {
		return nil, fmt.Errorf("invalid ATTEMPT_TIMEOUT: %w", err)
	}
	cfg.Primary.Timeout = timeout
	cfg.Escalation.Timeout = 2 * timeout

	ints := []struct {
		key string
		def string
		dst *int
	}{
		{"MAX_ATTEMPTS", "10", &cfg.MaxAttempts},
		{"ESCALATION_RETRIES", "2", &cfg.EscalationRetries},
		{"CALL_RETRIES", "3", &cfg.CallRetries},
		{"WORKERS", "4", &cfg.Workers},
		{"BATCH_SIZE", "5", &cfg.BatchSize},
		{"SOURCE_CACHE_SIZE", "256", &cfg.SourceCacheSize},
	}
	for _, i := range ints {
		n, err := strconv.Atoi(getEnv(i.key, i.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", i.key, err)
		}
		*i.dst = n
	}

	if cfg.TiersFile != "" {
		if err := cfg.applyTiersFile(cfg.TiersFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks field ranges and that required configuration is present.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Primary.Timeout <= 0 || c.Escalation.Timeout <= 0 {
		return errors.New("tier timeouts must be positive")
	}
	return nil
}

// ValidateForRun checks configuration needed to annotate verses.
func (c *Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	for _, tier := range []TierConfig{c.Primary, c.Escalation} {
		if key := c.apiKey(tier.Provider); key == "" {
			return fmt.Errorf("%s is required for the %s provider", apiKeyVar(tier.Provider), tier.Provider)
		}
	}
	if c.Source == SourceFile && c.VersesFile == "" {
		return errors.New("VERSES_FILE is required when SOURCE is file")
	}
	return nil
}

// ValidateForIndex checks configuration needed for the search index.
func (c *Config) ValidateForIndex() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.VecLitePath == "" {
		return errors.New("VECLITE_PATH is required")
	}
	return nil
}

func (c *Config) apiKey(provider string) string {
	switch provider {
	case ProviderGemini:
		return c.GeminiAPIKey
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	}
	return ""
}

// APIKey returns the API key configured for a tier's provider.
func (c *Config) APIKey(tier TierConfig) string {
	return c.apiKey(tier.Provider)
}

func apiKeyVar(provider string) string {
	if provider == ProviderAnthropic {
		return "ANTHROPIC_API_KEY"
	}
	return "GEMINI_API_KEY"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
