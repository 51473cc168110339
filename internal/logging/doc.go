// Package logging provides structured logging for embedkit.
//
// Logger wraps Zap with:
//   - A Trace level (-2, below Debug) for per-record pipeline detail
//   - Output to stderr, so stdout stays clean for command results
//   - Optional OpenTelemetry log bridge
//   - Automatic context fields (trace_id, run.id, input.path)
//   - Secret redaction by field name and value pattern
//   - Level-aware sampling (errors are never sampled)
//
// Typical use from a command:
//
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, logging.NewRunID())
//	ctx = logging.WithInputPath(ctx, "texts.txt")
//	logger.Info(ctx, "batch complete", zap.Int("records", n))
//
// Tests use TestLogger:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "done", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "done")
//	tl.AssertNoSecrets(t)
package logging
