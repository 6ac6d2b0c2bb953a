// Package telemetry exports rulelearn metrics over OTLP.
//
// New installs a MeterProvider as the global otel provider, so instruments
// created with otel.Meter anywhere in the process are exported. When the
// section is disabled the global no-op provider stays in place and every
// instrument is free.
//
// Export failures never stop a learning run. A provider that cannot be
// built leaves the instance degraded and the no-op meter in use.
//
//	tel, err := telemetry.New(ctx, &cfg.Telemetry, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	meter := tel.Meter("github.com/fyrsmithlabs/rulelearn/internal/pipeline")
package telemetry
