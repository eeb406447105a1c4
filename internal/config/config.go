package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"govline/internal/domain"
	"govline/internal/policy"
)

// Config models govline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		// DevLogin enables the local-only token mint endpoint.
		DevLogin bool `yaml:"dev_login"`
	} `yaml:"auth"`
	Notifier struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"notifier"`
	// Approvers optionally overrides the decision hierarchy per request type.
	Approvers map[string][]string `yaml:"approvers"`
}

// Load reads and validates config from workspace. A missing file yields the
// defaults.
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

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "govline.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v1"
	cfg.Notifier.BufferSize = 256
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Notifier.BufferSize < 0 {
		return fmt.Errorf("config.notifier.buffer_size must not be negative")
	}
	for t, roles := range c.Approvers {
		if !domain.RequestType(t).Valid() {
			return fmt.Errorf("config.approvers: unknown request type %s", t)
		}
		if len(roles) == 0 {
			return fmt.Errorf("config.approvers.%s must list at least one role", t)
		}
		for _, r := range roles {
			if !domain.Role(r).Valid() {
				return fmt.Errorf("config.approvers.%s: unknown role %s", t, r)
			}
		}
	}
	return nil
}

// Policy builds the role policy from the configured overrides.
func (c *Config) Policy() *policy.Policy {
	p := policy.New()
	for t, names := range c.Approvers {
		roles := make([]domain.Role, 0, len(names))
		for _, r := range names {
			roles = append(roles, domain.Role(r))
		}
		p = p.WithApprovers(domain.RequestType(t), roles)
	}
	return p
}
