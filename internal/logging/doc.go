// Package logging provides structured logging with OpenTelemetry integration.
//
// The package wraps Zap with:
//   - a Trace level (-2, below Debug) for per-hop ledger detail
//   - dual output (stdout + OpenTelemetry log bridge)
//   - context field injection (trace_id, change set, run, gate)
//   - secret redaction by key and by pattern (bearer headers, GitHub tokens)
//   - level-aware sampling where errors are never sampled
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithChangeSet(ctx, logging.ChangeSet{Repository: "acme/api", ID: "42"})
//	ctx = logging.WithGate(ctx, "build")
//	logger.Info(ctx, "gate settled", zap.String("status", "pass"))
//
// Tests use NewTestLogger and its Assert helpers.
//
// Logger is safe for concurrent use. Child loggers (With, Named) do not
// affect their parent.
package logging
