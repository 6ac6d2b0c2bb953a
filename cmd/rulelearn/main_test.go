package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rulelearn/internal/pipeline"
)

const recordJSON = `{
  "id": "rec-1",
  "sql": "SELECT * FROM users WHERE id = 1",
  "databaseType": "mysql",
  "timestamp": "2024-05-01T10:00:00Z",
  "analysis": {
    "performance": {
      "summary": "query reads every column",
      "issues": [{"type": "select_star", "severity": "medium", "description": "query selects every column"}],
      "confidence": 0.9
    }
  }
}`

// setupWorkspace points every configured path into a temp dir.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("RULELEARN_STORAGE_RULES_DIR", filepath.Join(dir, "rules"))
	t.Setenv("RULELEARN_HISTORY_PATH", filepath.Join(dir, "history"))
	t.Setenv("RULELEARN_THRESHOLD_STATE_FILE", filepath.Join(dir, "threshold.yaml"))
	t.Setenv("RULELEARN_LOGGING_LEVEL", "error")
	t.Setenv("RULELEARN_LLM_PROVIDER", "disabled")
	configPath, logLevel = "", ""
	analyzeSave, thresholdJSON, learnMaxPatterns = false, false, -1
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
		assert.NotEmpty(t, c.Short, c.Name())
	}
	for _, want := range []string{"learn", "analyze", "watch", "threshold"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestAnalyze_WithoutModelGoesToManualReview(t *testing.T) {
	dir := setupWorkspace(t)
	recordPath := filepath.Join(dir, "record.json")
	require.NoError(t, os.WriteFile(recordPath, []byte(recordJSON), 0o600))

	out, err := execute(t, "analyze", recordPath, "--save")
	require.NoError(t, err)

	var s pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 1, s.Generated)
	assert.Equal(t, 1, s.ManualReview, "a neutral model score keeps the rule below the quality bar")
	assert.InDelta(t, 0.7, s.Threshold, 1e-9)

	assert.Equal(t, 1, countFiles(t, filepath.Join(dir, "rules", "manual_review")))
	assert.Equal(t, 1, countFiles(t, filepath.Join(dir, "history")), "--save stores the record")
	assert.FileExists(t, filepath.Join(dir, "threshold.yaml"))

	out, err = execute(t, "learn")
	require.NoError(t, err)
	s = pipeline.Summary{}
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 1, s.Records)
	assert.Equal(t, 1, s.Generated)
}

func TestAnalyze_Stdin(t *testing.T) {
	setupWorkspace(t)
	rootCmd.SetIn(bytes.NewBufferString("[" + recordJSON + "," + recordJSON + "]"))
	defer rootCmd.SetIn(nil)

	out, err := execute(t, "analyze", "-")
	require.NoError(t, err)

	var summaries []pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	assert.Len(t, summaries, 2)
}

func TestAnalyze_BadInput(t *testing.T) {
	dir := setupWorkspace(t)
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))

	_, err := execute(t, "analyze", bad)
	assert.Error(t, err)

	_, err = execute(t, "analyze", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestThreshold_JSON(t *testing.T) {
	setupWorkspace(t)

	out, err := execute(t, "threshold", "--json")
	require.NoError(t, err)

	var report thresholdReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.InDelta(t, 0.7, report.Current, 1e-9)
	assert.Contains(t, report.Recommendation.Reason, "insufficient data")
}

func TestWatch_RequiresFileHistory(t *testing.T) {
	setupWorkspace(t)
	t.Setenv("RULELEARN_HISTORY_PROVIDER", "sqlite")

	_, err := execute(t, "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history.provider=file")
}

func TestInvalidConfig(t *testing.T) {
	setupWorkspace(t)
	t.Setenv("RULELEARN_EVALUATION_SECURITY_POLICY", "paranoid")

	_, err := execute(t, "learn")
	assert.Error(t, err)
}
