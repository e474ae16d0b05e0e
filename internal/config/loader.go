// Package config provides configuration loading for digestd.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/crestline-labs/digestd/internal/logging"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load reads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (DIGESTD_EXTRACTION_PROVIDER, DIGESTD_SERVER_PORT, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// A missing file is not an error; the defaults plus environment apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	// Environment overrides: DIGESTD_<SECTION>_<FIELD> -> section.field.
	// Only known section names split into nested keys; everything else maps
	// to a top-level field (DIGESTD_LOOKBACK_HOURS -> lookback_hours).
	sections := map[string]bool{
		"extraction": true, "delivery": true, "ranking": true,
		"linker": true, "feedback": true, "server": true,
		"storage": true, "logging": true,
	}
	if err := k.Load(env.Provider("DIGESTD_", ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, "DIGESTD_"))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 2 && sections[parts[0]] {
			return parts[0] + "." + parts[1]
		}
		return lower
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if len(cfg.Channels) == 0 {
		cfg.Channels = map[string]string{
			"mechanical": "C_MECHANICAL",
			"electrical": "C_ELECTRICAL",
			"software":   "C_SOFTWARE",
		}
	}
	if cfg.DigestChannel == "" {
		cfg.DigestChannel = "C_DIGEST"
	}
	if cfg.LookbackHours == 0 {
		cfg.LookbackHours = 24
	}

	if cfg.Extraction.Provider == "" {
		cfg.Extraction.Provider = "heuristic"
	}
	if cfg.Extraction.TimeoutSeconds == 0 {
		cfg.Extraction.TimeoutSeconds = 60
	}
	if cfg.Extraction.MaxTokens == 0 {
		cfg.Extraction.MaxTokens = 4096
	}

	if cfg.Delivery.TimeoutSeconds == 0 {
		cfg.Delivery.TimeoutSeconds = 15
	}

	if cfg.Ranking.TopicBonus == 0 {
		cfg.Ranking.TopicBonus = 0.1
	}
	if cfg.Ranking.TopicBonusCap == 0 {
		cfg.Ranking.TopicBonusCap = 0.2
	}

	if cfg.Linker.MinConfidence == 0 {
		cfg.Linker.MinConfidence = 0.4
	}
	if cfg.Linker.AlertConfidence == 0 {
		cfg.Linker.AlertConfidence = 0.8
	}

	if cfg.Feedback.Step == 0 {
		cfg.Feedback.Step = 0.05
	}
	if cfg.Feedback.Clamp == 0 {
		cfg.Feedback.Clamp = 0.3
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9182
	}

	if cfg.Storage.MemoryDir == "" {
		cfg.Storage.MemoryDir = "data/memory"
	}
	if cfg.Storage.FeedbackDB == "" {
		cfg.Storage.FeedbackDB = "data/feedback.db"
	}
	if cfg.Storage.StateFile == "" {
		cfg.Storage.StateFile = "data/run_state.json"
	}
	if cfg.Storage.AlertExport == "" {
		cfg.Storage.AlertExport = "data/alerts.json"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging = logging.DefaultConfig()
	}
}
