package sendemail

import (
	"fmt"
	"time"
)

type Config struct {
	Enabled         bool          `mapstructure:"enabled"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FromEmail       string        `mapstructure:"from_email"`
	RecoveryBaseURL string        `mapstructure:"recovery_base_url"`
	DefaultBrand    string        `mapstructure:"default_brand"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		Timeout:      30 * time.Second,
		DefaultBrand: "TINKO Recovery",
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.FromEmail == "" {
		return fmt.Errorf("from_email is required")
	}
	if c.RecoveryBaseURL == "" {
		return fmt.Errorf("recovery_base_url is required")
	}
	return nil
}
