// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chaincall

import (
	"fmt"
	"os"
	"time"

	"github.com/creachadair/chaincall/opchain"
	"gopkg.in/yaml.v3"
)

// A Config is the on-disk configuration for a node, in YAML format.
// Zero fields select the node defaults.
type Config struct {
	// ID is the node's identity in the fabric (required).
	ID string `yaml:"id"`

	// StorePath is the directory for the pending-call store. Empty selects
	// an in-memory store that does not survive a restart.
	StorePath string `yaml:"store_path,omitempty"`

	// MaxDepth and MaxArgs bound accepted operation chains.
	MaxDepth int `yaml:"max_depth,omitempty"`
	MaxArgs  int `yaml:"max_args,omitempty"`

	// DefaultTimeout applies to calls that do not set their own timeout,
	// e.g. "30s". Empty means no default timeout.
	DefaultTimeout Duration `yaml:"default_timeout,omitempty"`

	// QueueSize bounds the inbound envelope queue.
	QueueSize int `yaml:"queue_size,omitempty"`
}

// LoadConfig reads and parses a config from the file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses a config from YAML data.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if c.ID == "" {
		return nil, fmt.Errorf("invalid config: missing node id")
	}
	return &c, nil
}

// Limits returns the chain limits selected by c.
func (c *Config) Limits() opchain.Limits {
	return opchain.Limits{MaxDepth: c.MaxDepth, MaxArgs: c.MaxArgs}
}

// A Duration is a time.Duration that marshals in YAML as a duration
// string such as "1m30s".
type Duration time.Duration

// Duration converts d to its standard library equivalent.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// MarshalYAML implements the yaml.Marshaler interface.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
