// Package main implements the rulelearn CLI.
//
// rulelearn turns SQL analysis history into reviewed rule files. Each
// command loads configuration, wires the learning pipeline and prints a
// JSON run summary on stdout. Logs go to stderr.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML configuration file.
	configPath string
	// logLevel overrides logging.level when set.
	logLevel string

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rulelearn",
	Short: "Learn SQL review rules from analysis history",
	Long: `rulelearn learns SQL review rules from past analysis results.

Candidate rules are generated, scored, checked against the approved rules
and written as markdown under approved/, manual_review/ or issues/. The
auto-approval threshold adapts to the approval rate over recent runs.

Configuration is read from rulelearn.yaml (or --config) and RULELEARN_*
environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default ./rulelearn.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (trace, debug, info, warn, error)")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
