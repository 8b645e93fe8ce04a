package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models focusline.yml.
type Config struct {
	Tracker struct {
		ID string `yaml:"id"`
	} `yaml:"tracker"`
	Monitor struct {
		SampleInterval     Duration `yaml:"sample_interval"`
		IdleThreshold      Duration `yaml:"idle_threshold"`
		CheckpointInterval Duration `yaml:"checkpoint_interval"`
		RetentionDays      int      `yaml:"retention_days"`
	} `yaml:"monitor"`
	Categories map[string]Category `yaml:"categories"`
	Apps       map[string]string   `yaml:"apps"`
	Suggestions struct {
		Limit             int      `yaml:"limit"`
		PredictionTimeout Duration `yaml:"prediction_timeout"`
		HistoryWindow     Duration `yaml:"history_window"`
	} `yaml:"suggestions"`
	Alerts struct {
		Enabled   bool     `yaml:"enabled"`
		Threshold float64  `yaml:"threshold"`
		Window    Duration `yaml:"window"`
		Interval  Duration `yaml:"interval"`
	} `yaml:"alerts"`
	Server struct {
		JWTSecret string          `yaml:"jwt_secret,omitempty"`
		Webhooks  []WebhookConfig `yaml:"webhooks,omitempty"`
	} `yaml:"server"`
}

// Category describes one activity category and how it scores.
type Category struct {
	Productive bool    `yaml:"productive"`
	Weight     float64 `yaml:"weight"`
}

// WebhookConfig describes one journal-fed webhook endpoint.
type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events,omitempty"`
	Enabled *bool    `yaml:"enabled,omitempty"`
}

// Duration wraps time.Duration so YAML can carry values like "30m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts either a duration string or raw nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := node.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration node: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with fl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default(id) if the config file does not exist.
func LoadOptional(workspace, trackerID string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(trackerID), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tracker.ID == "" {
		return fmt.Errorf("config.tracker.id is required")
	}
	if c.Monitor.SampleInterval.Std() <= 0 {
		return fmt.Errorf("config.monitor.sample_interval must be positive")
	}
	if c.Monitor.IdleThreshold.Std() <= 0 {
		return fmt.Errorf("config.monitor.idle_threshold must be positive")
	}
	if c.Monitor.CheckpointInterval.Std() <= 0 {
		return fmt.Errorf("config.monitor.checkpoint_interval must be positive")
	}
	if c.Monitor.RetentionDays < 0 {
		return fmt.Errorf("config.monitor.retention_days must not be negative")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("config.categories is required")
	}
	for name, cat := range c.Categories {
		if name == "" {
			return fmt.Errorf("config.categories contains empty category name")
		}
		if cat.Weight < 0 || cat.Weight > 1 {
			return fmt.Errorf("category %s weight must be in [0,1]", name)
		}
	}
	for app, cat := range c.Apps {
		if app == "" {
			return fmt.Errorf("config.apps contains empty app name")
		}
		if _, ok := c.Categories[cat]; !ok {
			return fmt.Errorf("app %s maps to unknown category %s", app, cat)
		}
	}
	if c.Suggestions.Limit <= 0 {
		return fmt.Errorf("config.suggestions.limit must be positive")
	}
	if c.Suggestions.PredictionTimeout.Std() <= 0 {
		return fmt.Errorf("config.suggestions.prediction_timeout must be positive")
	}
	if c.Alerts.Enabled {
		if c.Alerts.Threshold <= 0 || c.Alerts.Threshold > 1 {
			return fmt.Errorf("config.alerts.threshold must be in (0,1]")
		}
		if c.Alerts.Window.Std() <= 0 || c.Alerts.Interval.Std() <= 0 {
			return fmt.Errorf("config.alerts.window and interval must be positive")
		}
	}
	for i, hook := range c.Server.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.server.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// ProductiveWeight returns the scoring weight for a category: its configured
// weight when the category is marked productive, zero otherwise. Unknown
// categories score zero.
func (c *Config) ProductiveWeight(category string) float64 {
	cat, ok := c.Categories[category]
	if !ok || !cat.Productive {
		return 0
	}
	return cat.Weight
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "focusline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(trackerID string) string {
	return fmt.Sprintf(defaultTemplate, trackerID)
}

// Default returns the default Config struct for a tracker.
func Default(trackerID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, trackerID)), &cfg)
	return &cfg
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

const defaultTemplate = `tracker:
  id: %s

monitor:
  sample_interval: 1s
  idle_threshold: 30m
  checkpoint_interval: 5m
  retention_days: 90

categories:
  development:
    productive: true
    weight: 1.0
  communication:
    productive: true
    weight: 0.6
  documents:
    productive: true
    weight: 0.8
  browsing:
    productive: false
    weight: 0.0
  media:
    productive: false
    weight: 0.0
  uncategorized:
    productive: false
    weight: 0.0

apps:
  code: development
  goland: development
  terminal: development
  slack: communication
  mail: communication
  word: documents
  excel: documents
  chrome: browsing
  firefox: browsing
  spotify: media

suggestions:
  limit: 5
  prediction_timeout: 2s
  history_window: 168h

alerts:
  enabled: true
  threshold: 0.4
  window: 1h
  interval: 30m

server: {}
`
