package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rulelearn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Learning.Enabled)
	assert.InDelta(t, 0.7, cfg.Learning.MinConfidence, 1e-9)
	assert.Equal(t, 3, cfg.Learning.MinFrequency)
	assert.Equal(t, 5, cfg.Learning.SimilarRecords)
	assert.Zero(t, cfg.Learning.MaxPatterns)
	assert.Equal(t, 3, cfg.Generation.MaxRulesPerLearning)
	assert.Equal(t, 60*time.Second, cfg.Generation.Timeout.Duration())
	assert.Equal(t, 70, cfg.Evaluation.MinQualityScore)
	assert.Equal(t, "strict", cfg.Evaluation.SecurityPolicy)
	assert.InDelta(t, 0.8, cfg.Duplicate.HighSimilarityThreshold, 1e-9)
	assert.InDelta(t, 0.6, cfg.Duplicate.WarnThreshold, 1e-9)
	assert.Equal(t, 20, cfg.Threshold.Window)
	assert.Equal(t, "disabled", cfg.LLM.Provider)
	assert.Equal(t, "rules/learning-rules", cfg.Storage.RulesDir)
	assert.Equal(t, HistoryFile, cfg.History.Provider)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min confidence", func(c *Config) { c.Learning.MinConfidence = 1.2 }},
		{"min frequency", func(c *Config) { c.Learning.MinFrequency = 0 }},
		{"max patterns", func(c *Config) { c.Learning.MaxPatterns = -1 }},
		{"max rules", func(c *Config) { c.Generation.MaxRulesPerLearning = 0 }},
		{"generation timeout", func(c *Config) { c.Generation.Timeout = 0 }},
		{"approval threshold", func(c *Config) { c.Evaluation.AutoApprovalThreshold = -0.1 }},
		{"quality score", func(c *Config) { c.Evaluation.MinQualityScore = 101 }},
		{"security policy", func(c *Config) { c.Evaluation.SecurityPolicy = "paranoid" }},
		{"warn above high", func(c *Config) { c.Duplicate.WarnThreshold = 0.9 }},
		{"target rate", func(c *Config) { c.Threshold.TargetRate = 1 }},
		{"threshold bounds", func(c *Config) { c.Threshold.Min = 0.9 }},
		{"window", func(c *Config) { c.Threshold.Window = 4 }},
		{"provider", func(c *Config) { c.LLM.Provider = "llama" }},
		{"retries", func(c *Config) { c.LLM.MaxRetries = -1 }},
		{"rules dir", func(c *Config) { c.Storage.RulesDir = "" }},
		{"history provider", func(c *Config) { c.History.Provider = "postgres" }},
		{"history path", func(c *Config) { c.History.Path = "" }},
		{"logging format", func(c *Config) { c.Logging.Format = "xml" }},
		{"telemetry protocol", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Protocol = "udp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
learning:
  min_confidence: 0.8
  max_patterns: 10
generation:
  timeout: 15s
  use_llm: false
evaluation:
  security_policy: loose
threshold:
  state_file: /var/lib/rulelearn/threshold.yaml
llm:
  provider: anthropic
  model: claude-3-5-haiku-latest
  api_key: sk-ant-secret
history:
  provider: sqlite
  path: history.db
logging:
  level: debug
  format: console
telemetry:
  enabled: true
  protocol: http/protobuf
  endpoint: localhost:4318
  export_interval: 30s
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.8, cfg.Learning.MinConfidence, 1e-9)
	assert.Equal(t, 10, cfg.Learning.MaxPatterns)
	assert.Equal(t, 3, cfg.Learning.MinFrequency, "unset keys keep defaults")
	assert.True(t, cfg.Learning.Enabled, "unset booleans keep defaults")
	assert.Equal(t, 15*time.Second, cfg.Generation.Timeout.Duration())
	assert.False(t, cfg.Generation.UseLLM)
	assert.Equal(t, "loose", cfg.Evaluation.SecurityPolicy)
	assert.Equal(t, "/var/lib/rulelearn/threshold.yaml", cfg.Threshold.StateFile)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-ant-secret", cfg.LLM.APIKey.Value())
	assert.Equal(t, HistorySQLite, cfg.History.Provider)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "rulelearn", cfg.Logging.Fields["service"])
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "http/protobuf", cfg.Telemetry.Protocol)
	assert.Equal(t, 30*time.Second, cfg.Telemetry.ExportInterval)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.ShutdownTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "learning:\n  min_confidence: 0.8\n", 0o600)

	t.Setenv("RULELEARN_LEARNING_MIN_CONFIDENCE", "0.9")
	t.Setenv("RULELEARN_EVALUATION_AUTO_APPROVAL_THRESHOLD", "0.75")
	t.Setenv("RULELEARN_LLM_API_KEY", "sk-from-env")
	t.Setenv("RULELEARN_EVALUATION_TIMEOUT", "5s")
	t.Setenv("RULELEARN_LEARNING_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, cfg.Learning.MinConfidence, 1e-9)
	assert.InDelta(t, 0.75, cfg.Evaluation.AutoApprovalThreshold, 1e-9)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey.Value())
	assert.Equal(t, 5*time.Second, cfg.Evaluation.Timeout.Duration())
	assert.False(t, cfg.Learning.Enabled)
}

func TestLoad_NoFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Storage, cfg.Storage)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_DefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPath), []byte("storage:\n  rules_dir: out/rules\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "out/rules", cfg.Storage.RulesDir)
}

func TestLoad_RejectsUnsafeFiles(t *testing.T) {
	t.Run("too large", func(t *testing.T) {
		big := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
		_, err := Load(writeConfig(t, big, 0o600))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("world writable", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("permission bits are not enforced on windows")
		}
		_, err := Load(writeConfig(t, "learning:\n  enabled: true\n", 0o666))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "world-writable")
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "threshold:\n  window: 2\n", 0o600))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "learning: [", 0o600))
		assert.Error(t, err)
	})
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"RULELEARN_LEARNING_MIN_CONFIDENCE": "learning.min_confidence",
		"RULELEARN_LLM_API_KEY":             "llm.api_key",
		"RULELEARN_THRESHOLD_STATE_FILE":    "threshold.state_file",
		"RULELEARN_DEBUG":                   "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestSecret_Redacts(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	js, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(js), "sk-live")

	y, err := yaml.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(y), "sk-live")

	var empty Secret
	assert.Empty(t, empty.String())
	assert.False(t, empty.IsSet())
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestDuration_BareSeconds(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("45")))
	assert.Equal(t, 45*time.Second, d.Duration())

	t.Setenv("RULELEARN_GENERATION_TIMEOUT", "30")
	cfg, err := Load(writeConfig(t, "evaluation:\n  timeout: 2m\n", 0o600))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Generation.Timeout.Duration())
	assert.Equal(t, 2*time.Minute, cfg.Evaluation.Timeout.Duration())
}
