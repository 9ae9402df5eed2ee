package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TiersFile is the YAML file that overrides tier and budget settings.
//
//	primary:
//	  provider: gemini
//	  model: gemini-2.5-flash
//	  timeout: 90s
//	escalation:
//	  provider: anthropic
//	  model: claude-sonnet-4-5
//	max_attempts: 10
type TiersFile struct {
	Primary           *TierConfig `yaml:"primary"`
	Escalation        *TierConfig `yaml:"escalation"`
	MaxAttempts       int         `yaml:"max_attempts"`
	EscalationRetries *int        `yaml:"escalation_retries"`
}

// LoadTiersFile reads a tiers file.
func LoadTiersFile(path string) (*TiersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	var tf TiersFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tiers file: %w", err)
	}
	return &tf, nil
}

func (c *Config) applyTiersFile(path string) error {
	tf, err := LoadTiersFile(path)
	if err != nil {
		return err
	}
	if tf.Primary != nil {
		mergeTier(&c.Primary, *tf.Primary)
	}
	if tf.Escalation != nil {
		mergeTier(&c.Escalation, *tf.Escalation)
	}
	if tf.MaxAttempts > 0 {
		c.MaxAttempts = tf.MaxAttempts
	}
	if tf.EscalationRetries != nil {
		c.EscalationRetries = *tf.EscalationRetries
	}
	return nil
}

// mergeTier copies the fields set in src over dst.
func mergeTier(dst *TierConfig, src TierConfig) {
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Timeout > 0 {
		dst.Timeout = src.Timeout
	}
	if src.MaxTokens > 0 {
		dst.MaxTokens = src.MaxTokens
	}
	if src.InputCostPerMTok > 0 {
		dst.InputCostPerMTok = src.InputCostPerMTok
	}
	if src.OutputCostPerMTok > 0 {
		dst.OutputCostPerMTok = src.OutputCostPerMTok
	}
}
