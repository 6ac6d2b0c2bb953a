package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulelearn/internal/approval"
	"github.com/fyrsmithlabs/rulelearn/internal/config"
	"github.com/fyrsmithlabs/rulelearn/internal/dedup"
	"github.com/fyrsmithlabs/rulelearn/internal/evaluation"
	"github.com/fyrsmithlabs/rulelearn/internal/generator"
	"github.com/fyrsmithlabs/rulelearn/internal/history"
	"github.com/fyrsmithlabs/rulelearn/internal/llm"
	"github.com/fyrsmithlabs/rulelearn/internal/logging"
	"github.com/fyrsmithlabs/rulelearn/internal/pipeline"
	"github.com/fyrsmithlabs/rulelearn/internal/rules"
	"github.com/fyrsmithlabs/rulelearn/internal/telemetry"
	"github.com/fyrsmithlabs/rulelearn/internal/threshold"
	"github.com/fyrsmithlabs/rulelearn/internal/validation"
)

// recordStore is a history backend that also accepts new records.
type recordStore interface {
	history.Store
	Save(ctx context.Context, record *history.AnalysisRecord) error
}

// app holds everything a command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    recordStore
	adjuster *threshold.Adjuster
	pipeline *pipeline.Pipeline

	closers []func() error
}

// loadConfig reads configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newApp wires the pipeline described by cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error { return logging.Sync(logger) })

	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	tel, err := telemetry.New(ctx, &cfg.Telemetry, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error { return tel.Shutdown(context.Background()) })

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.store = store

	analyzer, err := history.NewAnalyzer(store, a.logger,
		history.WithLearningEnabled(cfg.Learning.Enabled),
		history.WithMinConfidence(cfg.Learning.MinConfidence),
		history.WithMinFrequency(cfg.Learning.MinFrequency),
		history.WithSimilarRecords(cfg.Learning.SimilarRecords),
	)
	if err != nil {
		return fmt.Errorf("failed to create history analyzer: %w", err)
	}

	textGen, err := llm.NewGenerator(ctx, llm.Config{
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey.Value(),
		BaseURL:    cfg.LLM.BaseURL,
		MaxRetries: cfg.LLM.MaxRetries,
		Timeout:    cfg.Generation.Timeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create text generator: %w", err)
	}
	a.logger.Info("text generator ready",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.Bool("api_key_set", cfg.LLM.APIKey.IsSet()))

	gen, err := generator.New(llm.WithTimeout(textGen, cfg.Generation.Timeout.Duration()), a.logger,
		generator.WithMaxRules(cfg.Generation.MaxRulesPerLearning),
		generator.WithLLM(cfg.Generation.UseLLM),
	)
	if err != nil {
		return fmt.Errorf("failed to create rule generator: %w", err)
	}

	ev, err := evaluation.New(llm.WithTimeout(textGen, cfg.Evaluation.Timeout.Duration()), a.logger)
	if err != nil {
		return fmt.Errorf("failed to create quality evaluator: %w", err)
	}

	writer, err := rules.NewWriter(cfg.Storage.RulesDir, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create rule writer: %w", err)
	}

	detector, err := dedup.New(a.logger,
		dedup.WithThresholds(cfg.Duplicate.HighSimilarityThreshold, cfg.Duplicate.WarnThreshold))
	if err != nil {
		return fmt.Errorf("failed to create duplicate detector: %w", err)
	}

	approver, err := approval.New(approval.Policy{
		MinQualityScore:       cfg.Evaluation.MinQualityScore,
		CompletenessThreshold: cfg.Evaluation.CompletenessThreshold,
		SecurityPolicy:        validation.SecurityPolicy(cfg.Evaluation.SecurityPolicy),
	}, detector, writer, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create approver: %w", err)
	}

	adjuster, err := a.openAdjuster()
	if err != nil {
		return err
	}
	a.adjuster = adjuster

	p, err := pipeline.New(pipeline.Deps{
		Analyzer:  analyzer,
		Generator: gen,
		Evaluator: ev,
		Approver:  approver,
		Threshold: adjuster,
		Logger:    a.logger,
		Meter:     tel.Meter(pipeline.InstrumentationName),
	}, pipeline.Options{
		StateFile:   cfg.Threshold.StateFile,
		MaxPatterns: cfg.Learning.MaxPatterns,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	a.pipeline = p
	return nil
}

func (a *app) openStore(ctx context.Context) (recordStore, error) {
	switch a.cfg.History.Provider {
	case config.HistorySQLite:
		s, err := history.NewSQLiteStore(ctx, a.cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		if err := s.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize history schema: %w", err)
		}
		return s, nil
	default:
		s, err := history.NewFileStore(a.cfg.History.Path, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open history directory: %w", err)
		}
		return s, nil
	}
}

// openAdjuster builds the adjuster and restores saved state, if any.
func (a *app) openAdjuster() (*threshold.Adjuster, error) {
	t := a.cfg.Threshold
	adjuster, err := threshold.New(threshold.Config{
		TargetRate: t.TargetRate,
		Step:       t.Step,
		Min:        t.Min,
		Max:        t.Max,
		Window:     t.Window,
		Initial:    a.cfg.Evaluation.AutoApprovalThreshold,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create threshold adjuster: %w", err)
	}

	if t.StateFile != "" {
		if _, err := adjuster.Load(t.StateFile); err != nil {
			return nil, fmt.Errorf("failed to load threshold state: %w", err)
		}
	}
	return adjuster, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
