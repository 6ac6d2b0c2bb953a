package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newBufferLogger(t *testing.T, mutate func(*Config)) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	logger, err := NewWithWriter(cfg, zapcore.AddSync(&buf))
	require.NoError(t, err)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"TRACE", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{" warn ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Level = "loud" }},
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"bad output", func(c *Config) { c.Output = "file" }},
		{"zero tick", func(c *Config) { c.Sampling.Enabled = true; c.Sampling.Tick = 0 }},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"(["} }},
		{"long pattern", func(c *Config) { c.Redaction.Patterns = []string{strings.Repeat("a", 201)} }},
		{"empty field key", func(c *Config) { c.Fields = map[string]string{"": "x"} }},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"env": ""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNew_JSONShape(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) {
		c.Fields["env"] = "test"
	})

	logger.Info("learning run complete", zap.Int("approved", 2))
	require.NoError(t, logger.Sync())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "learning run complete", entry["msg"])
	assert.Equal(t, "rulelearn", entry["service"])
	assert.Equal(t, "test", entry["env"])
	assert.EqualValues(t, 2, entry["approved"])

	ts, ok := entry["ts"].(string)
	require.True(t, ok, "ts is an ISO8601 string")
	_, err := time.Parse("2006-01-02T15:04:05.000Z0700", ts)
	assert.NoError(t, err)
}

func TestNew_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Level = "warn" })

	logger.Info("dropped")
	logger.Warn("kept")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["msg"])
}

func TestNew_TraceLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Level = "trace" })

	logger.Log(TraceLevel, "prompt sent", zap.Int("prompt_chars", 120))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
}

func TestNew_ConsoleFormat(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Format = "console" })
	logger.Info("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "info")
}

func TestNew_RejectsInvalid(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestRedaction(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	logger.With(zap.String("token", "abc")).Info("provider ready",
		zap.String("api_key", "sk-abcdefghijklmnopqrstu"),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "claude"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["token"])
	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["header"])
	assert.Equal(t, "claude", lines[0]["model"])
	assert.NotContains(t, buf.String(), "sk-abcdefghijklmnopqrstu")
}

func TestRedaction_Disabled(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Redaction.Enabled = false })
	logger.Info("x", zap.String("token", "abc"))
	assert.Contains(t, buf.String(), `"token":"abc"`)
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("api_key", "sk-1234567890abcdef")
	assert.Equal(t, "[REDACTED:19]", f.String)
}

func TestSampling_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       time.Minute,
		Initial:    2,
		Thereafter: 0,
	})
	logger := zap.New(sampled)

	for range 10 {
		logger.Error("write failed")
		logger.Info("rule approved")
	}

	assert.Equal(t, 10, observed.FilterMessage("write failed").Len())
	assert.Equal(t, 2, observed.FilterMessage("rule approved").Len())
}

func TestSampling_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{}))
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	tl.Info("approval threshold adjusted",
		zap.Float64("new_threshold", 0.65),
		zap.String("reason", "rate below target"),
		zap.Int("samples", 5))
	tl.Log(TraceLevel, "raw reply")

	tl.AssertLogged(t, zapcore.InfoLevel, "threshold adjusted")
	tl.AssertLogged(t, TraceLevel, "raw reply")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "threshold")
	tl.AssertField(t, "approval threshold adjusted", "new_threshold", 0.65)
	tl.AssertField(t, "approval threshold adjusted", "reason", "rate below target")
	tl.AssertField(t, "approval threshold adjusted", "samples", int64(5))
	tl.AssertNoSecrets(t)
	assert.Len(t, tl.All(), 2)

	tl.Reset()
	assert.Empty(t, tl.All())
}
