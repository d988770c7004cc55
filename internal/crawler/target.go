package crawler

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Target is one configured crawl target. Loaded once at startup and
// read-only thereafter.
type Target struct {
	Name            string `yaml:"name"`
	IndexURL        string `yaml:"index_url"`
	Language        string `yaml:"language"`
	SiteCategory    string `yaml:"site_category"`
	IntervalHours   int    `yaml:"interval_hours"`
	DisplayName     string `yaml:"display_name"`
	Enabled         bool   `yaml:"enabled"`
	RespectRobots   bool   `yaml:"respect_robots_txt"`
	RequestInterval int    `yaml:"request_interval_seconds"`
	MaxArticles     int    `yaml:"max_articles_per_run"`
	TimeoutSeconds  int    `yaml:"request_timeout_seconds"`
	MaxRetries      int    `yaml:"max_retries"`
	LinkSelector    string `yaml:"article_link_selector"`
}

// Timeout returns the per-request timeout as a duration.
func (t Target) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Interval returns the scheduling period for this target.
func (t Target) Interval() time.Duration {
	return time.Duration(t.IntervalHours) * time.Hour
}

// Delay returns the fixed inter-request delay for article fetches.
func (t Target) Delay() time.Duration {
	return time.Duration(t.RequestInterval) * time.Second
}

func defaultTarget() Target {
	return Target{
		Enabled:         true,
		RespectRobots:   true,
		RequestInterval: 5,
		MaxArticles:     100,
		TimeoutSeconds:  30,
		MaxRetries:      3,
	}
}

type targetsFile struct {
	Defaults yaml.Node   `yaml:"defaults"`
	Targets  []yaml.Node `yaml:"targets"`
}

// LoadTargets reads the crawl target YAML file and returns the enabled
// targets. File-level defaults are merged under each target entry. A
// malformed entry is a fatal configuration error.
func LoadTargets(path string) ([]Target, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	return ParseTargets(raw)
}

// ParseTargets decodes target definitions from raw YAML.
func ParseTargets(raw []byte) ([]Target, error) {
	var file targetsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}

	targets := make([]Target, 0, len(file.Targets))
	for i, node := range file.Targets {
		target := defaultTarget()
		if file.Defaults.Kind != 0 {
			if err := file.Defaults.Decode(&target); err != nil {
				return nil, fmt.Errorf("decode target defaults: %w", err)
			}
		}
		if err := node.Decode(&target); err != nil {
			return nil, fmt.Errorf("decode target %d: %w", i, err)
		}
		if err := target.validate(); err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
		if !target.Enabled {
			continue
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func (t Target) validate() error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.IndexURL == "" {
		return fmt.Errorf("index_url is required")
	}
	if t.IntervalHours <= 0 {
		return fmt.Errorf("interval_hours must be > 0")
	}
	if t.TimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeout_seconds must be > 0")
	}
	if t.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be > 0")
	}
	return nil
}
