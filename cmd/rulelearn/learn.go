package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulelearn/internal/history"
	"github.com/fyrsmithlabs/rulelearn/internal/pipeline"
)

var (
	learnMaxPatterns int
	analyzeSave      bool
)

func init() {
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(analyzeCmd)

	learnCmd.Flags().IntVar(&learnMaxPatterns, "max-patterns", -1, "Override learning.max_patterns (0 means no cap)")
	analyzeCmd.Flags().BoolVar(&analyzeSave, "save", false, "Also store the records in the analysis history")
}

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Learn rules from the stored analysis history",
	Long: `Learn rules from the stored analysis history.

Records below learning.min_confidence are ignored. The rest are grouped by
SQL pattern and one representative per pattern is learned from, most
pressing recurring issue first.

Examples:
  # Learn from ./history
  rulelearn learn

  # Learn from a SQLite history, at most 20 patterns
  RULELEARN_HISTORY_PROVIDER=sqlite RULELEARN_HISTORY_PATH=history.db rulelearn learn --max-patterns 20`,
	Args: cobra.NoArgs,
	RunE: runLearn,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <record.json>",
	Short: "Learn rules from analysis records in a file",
	Long: `Learn rules from one or more analysis records.

The file holds a single record object or an array of records. Use - to
read from stdin. Each record that qualifies for learning runs through the
pipeline on its own.

Examples:
  rulelearn analyze record.json
  cat records.json | rulelearn analyze - --save`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func runLearn(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if learnMaxPatterns >= 0 {
		cfg.Learning.MaxPatterns = learnMaxPatterns
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.pipeline.LearnFromHistory(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if werr := writeJSON(cmd.OutOrStdout(), summary); werr != nil {
		return werr
	}
	return err
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	records, err := history.DecodeRecords(data)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	summaries := make([]pipeline.Summary, 0, len(records))
	for i := range records {
		if analyzeSave {
			if err := a.store.Save(cmd.Context(), &records[i]); err != nil {
				return fmt.Errorf("failed to save record: %w", err)
			}
		}
		s, err := a.pipeline.LearnFromAnalysis(cmd.Context(), records[i])
		if err != nil {
			return err
		}
		a.logger.Debug("record learned", zap.String("record_id", records[i].ID), zap.Int("approved", s.Approved))
		summaries = append(summaries, s)
	}

	if len(summaries) == 1 {
		return writeJSON(cmd.OutOrStdout(), summaries[0])
	}
	return writeJSON(cmd.OutOrStdout(), summaries)
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	return data, nil
}
