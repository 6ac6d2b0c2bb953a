// Package threshold retunes the auto-approval threshold from recent batch
// outcomes.
//
// The adjuster is a bang-bang controller: when the auto-approve rate runs
// well below target the threshold steps down, when it runs well above the
// threshold steps up, and the result is always clamped to [Min, Max].
package threshold

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidConfig indicates adjuster settings that cannot work together.
var ErrInvalidConfig = errors.New("invalid threshold config")

// Defaults.
const (
	DefaultTargetRate = 0.3
	DefaultStep       = 0.05
	DefaultMin        = 0.6
	DefaultMax        = 0.85
	DefaultWindow     = 20
	DefaultInitial    = 0.7

	// MinSamples is the number of samples needed before any adjustment.
	MinSamples = 5
	// RecentSamples is how many of the newest samples are averaged.
	RecentSamples = 10

	lowRateFactor  = 0.8
	highRateFactor = 1.2

	rewardQuality    = 75
	rewardConfidence = 0.75
)

// Config configures an Adjuster.
type Config struct {
	TargetRate float64
	Step       float64
	Min        float64
	Max        float64
	Window     int
	Initial    float64
}

// DefaultConfig returns the default adjuster settings.
func DefaultConfig() Config {
	return Config{
		TargetRate: DefaultTargetRate,
		Step:       DefaultStep,
		Min:        DefaultMin,
		Max:        DefaultMax,
		Window:     DefaultWindow,
		Initial:    DefaultInitial,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.TargetRate <= 0 || c.TargetRate > 1:
		return fmt.Errorf("%w: target rate %.2f out of range (0,1]", ErrInvalidConfig, c.TargetRate)
	case c.Step <= 0:
		return fmt.Errorf("%w: step must be positive", ErrInvalidConfig)
	case c.Min < 0 || c.Max > 1 || c.Min > c.Max:
		return fmt.Errorf("%w: bounds [%.2f, %.2f]", ErrInvalidConfig, c.Min, c.Max)
	case c.Window < MinSamples:
		return fmt.Errorf("%w: window %d smaller than %d", ErrInvalidConfig, c.Window, MinSamples)
	}
	return nil
}

// Recommendation is the outcome of Recommend.
type Recommendation struct {
	OldThreshold float64 `json:"oldThreshold"`
	NewThreshold float64 `json:"newThreshold"`
	Adjustment   float64 `json:"adjustment"`
	Reason       string  `json:"reason"`

	AvgApproveRate float64 `json:"avgApproveRate"`
	AvgQuality     float64 `json:"avgQuality"`
	AvgConfidence  float64 `json:"avgConfidence"`
	Samples        int     `json:"samples"`
}

// Changed reports whether the recommendation moves the threshold.
func (r Recommendation) Changed() bool {
	return r.NewThreshold != r.OldThreshold
}

// Adjuster owns the quality window and the current threshold.
type Adjuster struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	window    *Window
	threshold float64
}

// Option configures an Adjuster.
type Option func(*Adjuster)

// WithClock overrides the sample time source.
func WithClock(now func() time.Time) Option {
	return func(a *Adjuster) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an adjuster starting at cfg.Initial, clamped to the bounds.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Adjuster, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Adjuster{
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		window:    NewWindow(cfg.Window),
		threshold: clamp(round4(cfg.Initial), cfg.Min, cfg.Max),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Current returns the threshold in effect.
func (a *Adjuster) Current() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threshold
}

// Samples returns the window, oldest first.
func (a *Adjuster) Samples() []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.window.Samples()
}

// RecordQualityData adds one batch outcome to the window. Batches without
// rules carry no signal and are not recorded.
func (a *Adjuster) RecordQualityData(total, approved int, avgQuality, avgConfidence float64) (Sample, bool) {
	if total <= 0 {
		return Sample{}, false
	}

	s := Sample{
		Timestamp:       a.now().UTC(),
		TotalRules:      total,
		ApprovedRules:   approved,
		AutoApproveRate: float64(approved) / float64(total),
		AvgQualityScore: avgQuality,
		AvgConfidence:   avgConfidence,
	}

	a.mu.Lock()
	a.window.Push(s)
	n := a.window.Len()
	a.mu.Unlock()

	a.logger.Debug("recorded quality sample",
		zap.Int("total_rules", total),
		zap.Int("approved_rules", approved),
		zap.Float64("auto_approve_rate", s.AutoApproveRate),
		zap.Int("window_size", n))
	return s, true
}

// Recommend computes the next threshold from current. It does not apply it.
func (a *Adjuster) Recommend(current float64) Recommendation {
	a.mu.Lock()
	recent := a.window.Last(RecentSamples)
	a.mu.Unlock()

	rec := Recommendation{
		OldThreshold: current,
		NewThreshold: current,
		Samples:      len(recent),
	}

	if len(recent) < MinSamples {
		rec.Reason = fmt.Sprintf("insufficient data: %d of %d samples", len(recent), MinSamples)
		return rec
	}

	for _, s := range recent {
		rec.AvgApproveRate += s.AutoApproveRate
		rec.AvgQuality += s.AvgQualityScore
		rec.AvgConfidence += s.AvgConfidence
	}
	n := float64(len(recent))
	rec.AvgApproveRate /= n
	rec.AvgQuality /= n
	rec.AvgConfidence /= n

	target := a.cfg.TargetRate
	var delta float64
	switch {
	case rec.AvgApproveRate < target*lowRateFactor:
		delta = -a.cfg.Step
		rec.Reason = fmt.Sprintf("auto-approve rate %.2f below target %.2f", rec.AvgApproveRate, target)
	case rec.AvgApproveRate > target*highRateFactor:
		delta = a.cfg.Step
		rec.Reason = fmt.Sprintf("auto-approve rate %.2f above target %.2f", rec.AvgApproveRate, target)
	case rec.AvgQuality > rewardQuality && rec.AvgConfidence > rewardConfidence:
		delta = -a.cfg.Step / 2
		rec.Reason = fmt.Sprintf("rate on target with high quality %.1f and confidence %.2f", rec.AvgQuality, rec.AvgConfidence)
	default:
		rec.Reason = fmt.Sprintf("auto-approve rate %.2f on target %.2f", rec.AvgApproveRate, target)
	}

	rec.NewThreshold = clamp(round4(current+delta), a.cfg.Min, a.cfg.Max)
	rec.Adjustment = round4(rec.NewThreshold - current)
	if delta != 0 && rec.Adjustment == 0 {
		rec.Reason += "; threshold already at bound"
	}
	return rec
}

// ApplyAdjustment makes rec the threshold in effect and logs the change.
func (a *Adjuster) ApplyAdjustment(rec Recommendation) float64 {
	next := clamp(round4(rec.NewThreshold), a.cfg.Min, a.cfg.Max)

	a.mu.Lock()
	old := a.threshold
	a.threshold = next
	a.mu.Unlock()

	a.logger.Info("approval threshold adjusted",
		zap.Float64("old_threshold", old),
		zap.Float64("new_threshold", next),
		zap.Float64("adjustment", round4(next-old)),
		zap.String("reason", rec.Reason))
	return next
}

// Adjust recommends from the current threshold and applies the result
// when it moves.
func (a *Adjuster) Adjust() Recommendation {
	rec := a.Recommend(a.Current())
	if rec.Changed() {
		a.ApplyAdjustment(rec)
	}
	return rec
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
