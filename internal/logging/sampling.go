package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newSampledCore samples entries below error level. Errors bypass the
// sampler and are always written.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	errCore := gatedCore{Core: core, gate: zapcore.ErrorLevel}
	rest := gatedCore{Core: core, gate: zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l < zapcore.ErrorLevel
	})}

	return zapcore.NewTee(
		errCore,
		zapcore.NewSamplerWithOptions(rest, cfg.Tick, cfg.Initial, cfg.Thereafter),
	)
}

// gatedCore restricts an inner core to the levels gate allows.
type gatedCore struct {
	zapcore.Core
	gate zapcore.LevelEnabler
}

func (c gatedCore) Enabled(l zapcore.Level) bool {
	return c.gate.Enabled(l) && c.Core.Enabled(l)
}

func (c gatedCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c gatedCore) With(fields []zapcore.Field) zapcore.Core {
	return gatedCore{Core: c.Core.With(fields), gate: c.gate}
}
