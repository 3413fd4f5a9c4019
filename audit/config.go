package audit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the audit section of a configuration file.
//
//	enabled: true
//	date_time_kind: utc
//	types:
//	  - entity: Customer
//	    audit: CustomerAudit
type Config struct {
	Enabled      bool       `yaml:"enabled"`
	DateTimeKind string     `yaml:"date_time_kind"` // "utc" (default) or "local"
	Types        []TypePair `yaml:"types"`
}

// TypePair names an audited type and its audit type.
type TypePair struct {
	Entity     string   `yaml:"entity"`
	Audit      string   `yaml:"audit"`
	Properties []string `yaml:"properties,omitempty"`
}

// LoadConfig reads a Config from a YAML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("audit: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a Config from YAML.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("audit: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the date-time kind and the type pairs.
func (c Config) Validate() error {
	switch c.DateTimeKind {
	case "", "utc", "local":
	default:
		return fmt.Errorf("audit: unknown date_time_kind %q", c.DateTimeKind)
	}
	seen := make(map[string]bool)
	for _, p := range c.Types {
		if p.Entity == "" || p.Audit == "" {
			return fmt.Errorf("audit: type pair needs entity and audit names")
		}
		if seen[p.Entity] {
			return fmt.Errorf("audit: entity %q is listed twice", p.Entity)
		}
		seen[p.Entity] = true
	}
	return nil
}

// Location returns the time zone audit dates are recorded in.
func (c Config) Location() *time.Location {
	if c.DateTimeKind == "local" {
		return time.Local
	}
	return time.UTC
}
