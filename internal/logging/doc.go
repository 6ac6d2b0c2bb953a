// Package logging builds the process zap logger for rulelearn.
//
// # Overview
//
// The package wraps zap with:
//   - A custom Trace level (-2, below Debug)
//   - JSON or console encoding with an ISO8601 "ts" key
//   - Redaction of sensitive field names such as api_key
//   - Level-aware sampling (errors are never sampled)
//   - Constant fields attached to every entry
//
// Components never build their own logger. They receive a *zap.Logger from
// the command that wires them.
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	cfg.Level = "debug"
//	logger, err := logging.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer logging.Sync(logger)
//
// Output:
//
//	{
//	  "level": "info",
//	  "ts": "2024-05-01T10:15:30.000Z",
//	  "msg": "learning run complete",
//	  "service": "rulelearn",
//	  "approved": 1,
//	  "threshold": 0.7
//	}
//
// # Testing
//
// NewTestLogger records every entry, including trace:
//
//	tl := logging.NewTestLogger()
//	component, _ := New(tl.Logger)
//	component.Run()
//	tl.AssertLogged(t, zapcore.InfoLevel, "learning run complete")
//	tl.AssertField(t, "learning run complete", "approved", int64(1))
package logging
