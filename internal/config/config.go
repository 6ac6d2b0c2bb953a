// Package config loads rulelearn configuration.
//
// Values come from defaults, then an optional YAML file, then RULELEARN_
// environment variables. See Load.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/rulelearn/internal/logging"
	"github.com/fyrsmithlabs/rulelearn/internal/telemetry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the complete rulelearn configuration.
type Config struct {
	Learning   LearningConfig   `koanf:"learning"`
	Generation GenerationConfig `koanf:"generation"`
	Evaluation EvaluationConfig `koanf:"evaluation"`
	Duplicate  DuplicateConfig  `koanf:"duplicate"`
	Threshold  ThresholdConfig  `koanf:"threshold"`
	LLM        LLMConfig        `koanf:"llm"`
	Storage    StorageConfig    `koanf:"storage"`
	History    HistoryConfig    `koanf:"history"`
	Logging    logging.Config   `koanf:"logging"`
	Telemetry  telemetry.Config `koanf:"telemetry"`
}

// LearningConfig controls which history is learned from.
type LearningConfig struct {
	Enabled        bool    `koanf:"enabled"`
	MinConfidence  float64 `koanf:"min_confidence"`
	MinFrequency   int     `koanf:"min_frequency"`
	SimilarRecords int     `koanf:"similar_records"`
	// MaxPatterns caps the SQL patterns one history run processes. Zero
	// means no cap.
	MaxPatterns int `koanf:"max_patterns"`
}

// GenerationConfig controls rule generation.
type GenerationConfig struct {
	MaxRulesPerLearning int      `koanf:"max_rules_per_learning"`
	Timeout             Duration `koanf:"timeout"`
	UseLLM              bool     `koanf:"use_llm"`
}

// EvaluationConfig controls quality evaluation and approval.
type EvaluationConfig struct {
	AutoApprovalThreshold float64  `koanf:"auto_approval_threshold"`
	MinQualityScore       int      `koanf:"min_quality_score"`
	CompletenessThreshold float64  `koanf:"completeness_threshold"`
	SecurityPolicy        string   `koanf:"security_policy"`
	Timeout               Duration `koanf:"timeout"`
}

// DuplicateConfig holds duplicate-detection thresholds.
type DuplicateConfig struct {
	HighSimilarityThreshold float64 `koanf:"high_similarity_threshold"`
	WarnThreshold           float64 `koanf:"warn_threshold"`
}

// ThresholdConfig controls automatic threshold adjustment.
type ThresholdConfig struct {
	TargetRate float64 `koanf:"target_rate"`
	Step       float64 `koanf:"step"`
	Min        float64 `koanf:"min"`
	Max        float64 `koanf:"max"`
	Window     int     `koanf:"window"`
	// StateFile persists the threshold between runs when set.
	StateFile string `koanf:"state_file"`
}

// LLMConfig selects the text-generation provider.
type LLMConfig struct {
	Provider   string `koanf:"provider"`
	Model      string `koanf:"model"`
	APIKey     Secret `koanf:"api_key"`
	BaseURL    string `koanf:"base_url"`
	MaxRetries int    `koanf:"max_retries"`
}

// StorageConfig locates the rule directory tree.
type StorageConfig struct {
	RulesDir string `koanf:"rules_dir"`
}

// HistoryConfig selects the analysis history backend.
type HistoryConfig struct {
	Provider string `koanf:"provider"`
	Path     string `koanf:"path"`
}

// History providers.
const (
	HistoryFile   = "file"
	HistorySQLite = "sqlite"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Learning: LearningConfig{
			Enabled:        true,
			MinConfidence:  0.7,
			MinFrequency:   3,
			SimilarRecords: 5,
		},
		Generation: GenerationConfig{
			MaxRulesPerLearning: 3,
			Timeout:             Duration(60 * time.Second),
			UseLLM:              true,
		},
		Evaluation: EvaluationConfig{
			AutoApprovalThreshold: 0.7,
			MinQualityScore:       70,
			CompletenessThreshold: 0.7,
			SecurityPolicy:        "strict",
			Timeout:               Duration(60 * time.Second),
		},
		Duplicate: DuplicateConfig{
			HighSimilarityThreshold: 0.8,
			WarnThreshold:           0.6,
		},
		Threshold: ThresholdConfig{
			TargetRate: 0.3,
			Step:       0.05,
			Min:        0.6,
			Max:        0.85,
			Window:     20,
		},
		LLM: LLMConfig{
			Provider:   "disabled",
			MaxRetries: 3,
		},
		Storage: StorageConfig{
			RulesDir: "rules/learning-rules",
		},
		History: HistoryConfig{
			Provider: HistoryFile,
			Path:     "history",
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	l := c.Learning
	switch {
	case !unit(l.MinConfidence):
		return fmt.Errorf("learning.min_confidence must be in [0, 1], got %v", l.MinConfidence)
	case l.MinFrequency < 1:
		return fmt.Errorf("learning.min_frequency must be >= 1, got %d", l.MinFrequency)
	case l.SimilarRecords < 0:
		return fmt.Errorf("learning.similar_records cannot be negative")
	case l.MaxPatterns < 0:
		return fmt.Errorf("learning.max_patterns cannot be negative")
	}

	g := c.Generation
	switch {
	case g.MaxRulesPerLearning < 1:
		return fmt.Errorf("generation.max_rules_per_learning must be >= 1, got %d", g.MaxRulesPerLearning)
	case g.Timeout <= 0:
		return fmt.Errorf("generation.timeout must be positive")
	}

	e := c.Evaluation
	switch {
	case !unit(e.AutoApprovalThreshold):
		return fmt.Errorf("evaluation.auto_approval_threshold must be in [0, 1], got %v", e.AutoApprovalThreshold)
	case e.MinQualityScore < 0 || e.MinQualityScore > 100:
		return fmt.Errorf("evaluation.min_quality_score must be in [0, 100], got %d", e.MinQualityScore)
	case !unit(e.CompletenessThreshold):
		return fmt.Errorf("evaluation.completeness_threshold must be in [0, 1], got %v", e.CompletenessThreshold)
	case e.SecurityPolicy != "strict" && e.SecurityPolicy != "loose":
		return fmt.Errorf("evaluation.security_policy must be 'strict' or 'loose', got %q", e.SecurityPolicy)
	case e.Timeout <= 0:
		return fmt.Errorf("evaluation.timeout must be positive")
	}

	d := c.Duplicate
	if d.WarnThreshold <= 0 || d.WarnThreshold > d.HighSimilarityThreshold || d.HighSimilarityThreshold > 1 {
		return fmt.Errorf("duplicate thresholds must satisfy 0 < warn <= high <= 1, got warn=%v high=%v",
			d.WarnThreshold, d.HighSimilarityThreshold)
	}

	t := c.Threshold
	switch {
	case t.TargetRate <= 0 || t.TargetRate >= 1:
		return fmt.Errorf("threshold.target_rate must be in (0, 1), got %v", t.TargetRate)
	case t.Step <= 0:
		return fmt.Errorf("threshold.step must be positive")
	case !unit(t.Min) || !unit(t.Max) || t.Min > t.Max:
		return fmt.Errorf("threshold bounds must satisfy 0 <= min <= max <= 1, got min=%v max=%v", t.Min, t.Max)
	case t.Window < 5:
		return fmt.Errorf("threshold.window must be >= 5, got %d", t.Window)
	}

	switch c.LLM.Provider {
	case "", "disabled", "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("llm.provider must be one of disabled, anthropic, openai, gemini; got %q", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative")
	}

	if c.Storage.RulesDir == "" {
		return fmt.Errorf("storage.rules_dir cannot be empty")
	}

	switch c.History.Provider {
	case HistoryFile, HistorySQLite:
	default:
		return fmt.Errorf("history.provider must be 'file' or 'sqlite', got %q", c.History.Provider)
	}
	if c.History.Path == "" {
		return fmt.Errorf("history.path cannot be empty")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}
