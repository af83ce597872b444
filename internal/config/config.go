package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models portside.yml.
type Config struct {
	Server struct {
		Addr        string `yaml:"addr"`
		BasePath    string `yaml:"base_path"`
		TokenSecret string `yaml:"token_secret"`
		TokenTTL    int    `yaml:"token_ttl_seconds"`
	} `yaml:"server"`
	Donation struct {
		// ChunkSize caps the rows shown per table; larger tables fan out
		// through per-chunk donation payloads.
		ChunkSize int `yaml:"chunk_size"`
		// MatchThreshold switches the classifier from any-overlap to a
		// fraction-of-known-files rule. Zero keeps the default.
		MatchThreshold float64 `yaml:"match_threshold"`
	} `yaml:"donation"`
	Platforms []string        `yaml:"platforms"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig declares one endpoint that receives session events.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
	// Events filters delivered event types; empty means all.
	Events []string `yaml:"events"`
	// TimeoutSeconds overrides the delivery timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Default returns a config with sensible local defaults.
func Default() *Config {
	c := &Config{}
	c.Server.Addr = "127.0.0.1:8080"
	c.Server.BasePath = "/v0"
	c.Server.TokenTTL = 24 * 3600
	c.Donation.ChunkSize = 250000
	c.Platforms = []string{"youtube", "tiktok"}
	return c
}

// Path returns the config file location inside a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "portside.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when no config file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML decodes and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Donation.ChunkSize <= 0 {
		return fmt.Errorf("config.donation.chunk_size must be positive")
	}
	if c.Donation.MatchThreshold < 0 || c.Donation.MatchThreshold > 1 {
		return fmt.Errorf("config.donation.match_threshold must be within [0,1]")
	}
	if len(c.Platforms) == 0 {
		return fmt.Errorf("config.platforms must name at least one platform")
	}
	for _, p := range c.Platforms {
		switch p {
		case "youtube", "tiktok":
		default:
			return fmt.Errorf("unknown platform %q in config.platforms", p)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}
