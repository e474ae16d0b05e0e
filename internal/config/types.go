package config

import (
	"fmt"
	"time"

	"github.com/crestline-labs/digestd/internal/logging"
)

// Config is the immutable process-wide configuration. It is loaded once at
// startup and passed into each component constructor; components never read
// ambient state.
type Config struct {
	// Channels maps team name to the chat channel monitored for it.
	Channels map[string]string `koanf:"channels"`

	// DigestChannel receives the main digest post.
	DigestChannel string `koanf:"digest_channel"`

	// Leadership lists user IDs that receive cross-team alert DMs.
	Leadership []string `koanf:"leadership"`

	// Recipients are the users who receive personalized digests.
	Recipients []Recipient `koanf:"recipients"`

	// LookbackHours bounds history processed when no prior run exists.
	LookbackHours int `koanf:"lookback_hours"`

	Extraction ExtractionConfig `koanf:"extraction"`
	Delivery   DeliveryConfig   `koanf:"delivery"`
	Ranking    RankingConfig    `koanf:"ranking"`
	Linker     LinkerConfig     `koanf:"linker"`
	Feedback   FeedbackConfig   `koanf:"feedback"`
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Logging    logging.Config   `koanf:"logging"`
}

// Recipient identifies one digest recipient and their persona inputs.
type Recipient struct {
	ID   string `koanf:"id"`
	Role string `koanf:"role"`
	Team string `koanf:"team"`
}

// ExtractionConfig configures the extraction collaborator.
type ExtractionConfig struct {
	// Provider selects the analyzer: "heuristic", "anthropic", "openai",
	// or "disabled".
	Provider string `koanf:"provider"`

	Model     string `koanf:"model"`
	APIKey    string `koanf:"api_key"`
	BaseURL   string `koanf:"base_url"`
	MaxTokens int    `koanf:"max_tokens"`

	// TimeoutSeconds bounds a single analysis call. Expiry yields a typed
	// collaborator error, never a hung run.
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

// Timeout returns the analysis call timeout as a duration.
func (c ExtractionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DeliveryConfig configures the outbound delivery collaborator.
type DeliveryConfig struct {
	WebhookURL     string `koanf:"webhook_url"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// Timeout returns the per-target send timeout.
func (c DeliveryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RankingConfig carries the tunable ranking constants.
type RankingConfig struct {
	// TopicBonus is added per matched topic keyword, capped at TopicBonusCap.
	TopicBonus    float64 `koanf:"topic_bonus"`
	TopicBonusCap float64 `koanf:"topic_bonus_cap"`
}

// LinkerConfig carries the dependency-detection thresholds.
type LinkerConfig struct {
	// MinConfidence drops dependency candidates below it.
	MinConfidence float64 `koanf:"min_confidence"`

	// AlertConfidence promotes dependencies above it to cross-team alerts.
	AlertConfidence float64 `koanf:"alert_confidence"`
}

// FeedbackConfig carries the feedback-loop tuning constants.
type FeedbackConfig struct {
	// Step is the per-reaction confidence delta.
	Step float64 `koanf:"step"`

	// Clamp bounds the aggregate delta to [-Clamp, +Clamp].
	Clamp float64 `koanf:"clamp"`
}

// ServerConfig configures the feedback-ingest HTTP listener.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// StorageConfig locates the persisted stores.
type StorageConfig struct {
	// MemoryDir holds the decision and blocker record files.
	MemoryDir string `koanf:"memory_dir"`

	// FeedbackDB is the SQLite database path for the feedback loop.
	FeedbackDB string `koanf:"feedback_db"`

	// StateFile is the run-state record path.
	StateFile string `koanf:"state_file"`

	// AlertExport receives the current run's cross-team alert list for
	// leadership routing and audit.
	AlertExport string `koanf:"alert_export"`
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one team channel is required")
	}
	if c.LookbackHours <= 0 {
		return fmt.Errorf("lookback_hours must be positive, got %d", c.LookbackHours)
	}
	if c.Linker.MinConfidence < 0 || c.Linker.MinConfidence > 1 {
		return fmt.Errorf("linker.min_confidence must be in [0,1], got %f", c.Linker.MinConfidence)
	}
	if c.Linker.AlertConfidence < c.Linker.MinConfidence {
		return fmt.Errorf("linker.alert_confidence must be >= linker.min_confidence")
	}
	if c.Feedback.Step <= 0 || c.Feedback.Clamp <= 0 {
		return fmt.Errorf("feedback step and clamp must be positive")
	}
	if c.Feedback.Step > c.Feedback.Clamp {
		return fmt.Errorf("feedback.step must not exceed feedback.clamp")
	}
	return nil
}
