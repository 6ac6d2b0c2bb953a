package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// Telemetry owns the process MeterProvider.
type Telemetry struct {
	config *Config
	logger *zap.Logger

	meterProvider *sdkmetric.MeterProvider

	healthy  atomic.Bool
	degraded atomic.Bool
}

// Option configures New.
type Option func(*options)

type options struct {
	reader sdkmetric.Reader
	global bool
}

// WithReader replaces the OTLP reader, typically with a ManualReader.
func WithReader(r sdkmetric.Reader) Option {
	return func(o *options) {
		o.reader = r
	}
}

// WithoutGlobal keeps the provider out of otel's global state.
func WithoutGlobal() Option {
	return func(o *options) {
		o.global = false
	}
}

// New validates cfg and starts metric export when enabled.
//
// A disabled config yields a no-op instance. Exporter construction errors
// leave the instance degraded rather than failing.
func New(ctx context.Context, cfg *Config, logger *zap.Logger, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telemetry config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	o := options{global: true}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Telemetry{config: cfg, logger: logger}
	t.healthy.Store(true)

	if !cfg.Enabled {
		return t, nil
	}

	reader := o.reader
	if reader == nil {
		r, err := newReader(ctx, cfg)
		if err != nil {
			t.degraded.Store(true)
			logger.Warn("metrics export disabled", zap.Error(err))
			return t, nil
		}
		reader = r
	}

	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(newResource(cfg)),
		sdkmetric.WithReader(reader),
	)
	if o.global {
		otel.SetMeterProvider(t.meterProvider)
	}

	logger.Info("metrics export enabled",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("protocol", cfg.Protocol))
	return t, nil
}

// Meter returns a meter for the instrumentation scope name. It is a no-op
// meter when export is disabled or degraded.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// ForceFlush exports pending metrics immediately.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}
	if err := t.meterProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("meter flush: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the provider. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	defer t.healthy.Store(false)
	if t.meterProvider == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownTimeout)
		defer cancel()
	}

	if err := t.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider shutdown: %w", err)
	}
	return nil
}

// HealthStatus reports telemetry state.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
}

// Health returns the current telemetry health status.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Healthy: false, Degraded: true}
	}
	return HealthStatus{
		Healthy:  t.healthy.Load(),
		Degraded: t.degraded.Load(),
	}
}

// IsEnabled reports whether metrics are being exported.
func (t *Telemetry) IsEnabled() bool {
	return t != nil && t.meterProvider != nil && t.healthy.Load()
}
