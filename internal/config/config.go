package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/specrun/internal/capability"
	"github.com/3cpo-dev/specrun/internal/scheduler"
)

var ErrUnknownSuite = errors.New("unknown suite")

// Patterns decodes either a single YAML string or a list of strings.
type Patterns []string

func (p *Patterns) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		if s != "" {
			*p = Patterns{s}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*p = list
		return nil
	}
	return fmt.Errorf("line %d: expected a pattern or list of patterns", value.Line)
}

// Config is the run configuration read from YAML.
type Config struct {
	ConfigDir string              `yaml:"configDir"`
	Specs     Patterns            `yaml:"specs"`
	Exclude   Patterns            `yaml:"exclude"`
	Suites    map[string]Patterns `yaml:"suites"`
	// Suite selects suites by name, comma separated.
	Suite             string                    `yaml:"suite"`
	MaxSessions       int                       `yaml:"maxSessions"`
	Capabilities      capability.Capabilities   `yaml:"capabilities"`
	MultiCapabilities []capability.Capabilities `yaml:"multiCapabilities"`
}

// DefaultPath returns $XDG_CONFIG_HOME/specrun/config.yaml or ~/.config/specrun/config.yaml.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "specrun", "config.yaml")
}

// Load reads YAML configuration from path, or DefaultPath when path is empty.
// ${VAR} references are expanded from specrun.env next to the file, then from the
// process environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	env, err := LoadEnvFile(filepath.Join(filepath.Dir(path), EnvFileName))
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	content = Expand(content, env)

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ConfigDir == "" {
		abs, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, fmt.Errorf("config dir: %w", err)
		}
		cfg.ConfigDir = abs
	} else if !filepath.IsAbs(cfg.ConfigDir) {
		cfg.ConfigDir = filepath.Join(filepath.Dir(path), cfg.ConfigDir)
	}
	return &cfg, nil
}

// SpecPatterns returns the global spec patterns. A selected suite replaces the
// specs list; without either, every suite is used in name order.
func (c *Config) SpecPatterns() ([]string, error) {
	if c.Suite != "" {
		var out []string
		for _, name := range strings.Split(c.Suite, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			patterns, ok := c.Suites[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownSuite, name)
			}
			out = append(out, patterns...)
		}
		return out, nil
	}
	if len(c.Specs) > 0 {
		return append([]string(nil), c.Specs...), nil
	}
	names := make([]string, 0, len(c.Suites))
	for name := range c.Suites {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []string
	for _, name := range names {
		out = append(out, c.Suites[name]...)
	}
	return out, nil
}

// CapabilityList returns multiCapabilities, falling back to the single
// capabilities entry.
func (c *Config) CapabilityList() []capability.Capabilities {
	if len(c.MultiCapabilities) > 0 {
		return c.MultiCapabilities
	}
	if len(c.Capabilities) > 0 {
		return []capability.Capabilities{c.Capabilities}
	}
	return nil
}

// Scheduler converts the file configuration into scheduler input.
func (c *Config) Scheduler() (scheduler.Config, error) {
	specs, err := c.SpecPatterns()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		BaseDir:      c.ConfigDir,
		Specs:        specs,
		Exclude:      append([]string(nil), c.Exclude...),
		Capabilities: c.CapabilityList(),
		MaxSessions:  c.MaxSessions,
	}, nil
}
