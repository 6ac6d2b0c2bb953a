package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulelearn/internal/config"
	"github.com/fyrsmithlabs/rulelearn/internal/history"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Learn from analysis records as they arrive",
	Long: `Watch the history directory and learn from each new record.

Requires history.provider=file. Every .json file created or rewritten in
history.path is decoded and each qualifying record runs through the
pipeline. Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.History.Provider != config.HistoryFile {
		return fmt.Errorf("watch requires history.provider=%s, got %s", config.HistoryFile, cfg.History.Provider)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := history.NewWatcher(cfg.History.Path, a.logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	a.logger.Info("watching analysis history", zap.String("path", cfg.History.Path))

	for record := range w.Records() {
		if !a.pipeline.ShouldTriggerLearning(record) {
			continue
		}
		s, err := a.pipeline.LearnFromAnalysis(ctx, record)
		if err != nil {
			a.logger.Error("learning from record failed", zap.String("record_id", record.ID), zap.Error(err))
			continue
		}
		if err := writeJSON(cmd.OutOrStdout(), s); err != nil {
			return err
		}
	}

	a.logger.Info("history watcher stopped")
	return nil
}
