package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models radwerk.yml, the per-workshop policy document.
type Config struct {
	Workshop struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"workshop"`
	Completion struct {
		// RequiredFields lists the bike attributes that must be
		// collected before a build may leave in_progress. Set
		// semantics; order does not matter.
		RequiredFields []string `yaml:"required_fields"`
	} `yaml:"completion"`
	Urgency struct {
		UpcomingDays int `yaml:"upcoming_days"`
	} `yaml:"urgency"`
	Retention struct {
		// ArchiveDays is how long archived entities are kept before
		// the sweep moves them to purged.
		ArchiveDays int `yaml:"archive_days"`
	} `yaml:"retention"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run rw config init or pass --file", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workshop.ID == "" {
		return fmt.Errorf("config.workshop.id is required")
	}
	if c.Urgency.UpcomingDays < 0 {
		return fmt.Errorf("config.urgency.upcoming_days must not be negative")
	}
	if c.Retention.ArchiveDays < 0 {
		return fmt.Errorf("config.retention.archive_days must not be negative")
	}
	seen := map[string]bool{}
	for _, f := range c.Completion.RequiredFields {
		if f == "" {
			return fmt.Errorf("config.completion.required_fields contains an empty name")
		}
		if seen[f] {
			return fmt.Errorf("config.completion.required_fields lists %s twice", f)
		}
		seen[f] = true
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "radwerk.yml")
}

// Default returns the default Config struct for a workshop.
func Default(workshopID string) *Config {
	var cfg Config
	cfg.Workshop.ID = workshopID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, workshopID))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workshopID string) string {
	return fmt.Sprintf(defaultTemplate, workshopID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workshop:
  id: %s
  name: Workshop

completion:
  required_fields: [brand, model, frame_number, color]

urgency:
  upcoming_days: 3

retention:
  archive_days: 30
`
