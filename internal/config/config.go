// Package config loads the runtime's YAML configuration file: model
// catalogue, retry/backoff tuning, auto-compaction policy, and logging.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Config is the top-level shape of an agentcore YAML config file.
type Config struct {
	Session     SessionConfig     `yaml:"session"`
	Models      ModelsConfig      `yaml:"models"`
	Retry       RetryConfig       `yaml:"retry"`
	AutoCompact AutoCompactConfig `yaml:"auto_compact"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SessionConfig locates the session journal on disk.
type SessionConfig struct {
	Dir string `yaml:"dir"`
}

// ModelsConfig names the primary model and its fallback catalogue.
type ModelsConfig struct {
	Primary   models.Model   `yaml:"primary"`
	Fallbacks []models.Model `yaml:"fallbacks"`
}

// RetryConfig mirrors agent.RetryConfig in YAML-friendly, duration form.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// AutoCompactConfig mirrors agentsession.AutoCompactionConfig in YAML form.
type AutoCompactConfig struct {
	Enabled            bool `yaml:"enabled"`
	ReserveTokens      int  `yaml:"reserve_tokens"`
	KeepRecentMessages int  `yaml:"keep_recent_messages"`
	MaxSummaryChars    int  `yaml:"max_summary_chars"`
}

// LoggingConfig configures the process-wide structured logger.
type LoggingConfig struct {
	Level     string   `yaml:"level"`
	Format    string   `yaml:"format"`
	AddSource bool     `yaml:"add_source"`
	Redact    []string `yaml:"redact"`
}

// Default returns a Config with the runtime's stock tuning: three retry
// attempts with one-second initial backoff, auto-compaction disabled, and
// text-format info-level logging.
func Default() Config {
	return Config{
		Session: SessionConfig{Dir: "./sessions"},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		AutoCompact: AutoCompactConfig{
			Enabled:            false,
			ReserveTokens:      16384,
			KeepRecentMessages: 8,
			MaxSummaryChars:    2000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a YAML config file, starting from Default() so
// unset fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LogConfigFrom translates the YAML logging section into an
// observability.LogConfig.
func LogConfigFrom(l LoggingConfig) observability.LogConfig {
	return observability.LogConfig{
		Level:          l.Level,
		Format:         l.Format,
		AddSource:      l.AddSource,
		RedactPatterns: l.Redact,
	}
}
