package tls

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type runIDKey struct{}

// WithRunID returns a context whose trust log records carry runID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the bootstrap run ID stored in ctx.
func RunIDFrom(ctx context.Context) string {
	runID, _ := ctx.Value(runIDKey{}).(string)
	return runID
}

// TrustLogger provides structured logging for trust bootstrap events
type TrustLogger struct {
	logger *slog.Logger
}

// NewTrustLogger creates a new trust logger
func NewTrustLogger(logger *slog.Logger) *TrustLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &TrustLogger{
		logger: logger.With("component", "trust"),
	}
}

func (l *TrustLogger) log(ctx context.Context, level slog.Level, message, event string, attrs ...slog.Attr) {
	base := []slog.Attr{slog.String("event", event)}
	if runID := RunIDFrom(ctx); runID != "" {
		base = append(base, slog.String("run_id", runID))
	}
	l.logger.LogAttrs(ctx, level, message, append(base, attrs...)...)
}

func errorAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}
	attrs := []slog.Attr{slog.String("error", err.Error())}
	if errorType := ErrorTypeOf(err); errorType != "" {
		attrs = append(attrs, slog.String("error_type", string(errorType)))
	}
	return attrs
}

// LogStoreLoad logs the outcome of loading one certificate store
func (l *TrustLogger) LogStoreLoad(ctx context.Context, source string, format StoreFormat, aliasCount int, duration time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("source", source),
		slog.String("format", string(format)),
		slog.Duration("duration", duration),
	}

	if err != nil {
		l.log(ctx, slog.LevelError, "Certificate store loading failed", "store_load", append(attrs, errorAttrs(err)...)...)
		return
	}

	attrs = append(attrs, slog.Int("alias_count", aliasCount))
	l.log(ctx, slog.LevelInfo, "Certificate store loaded", "store_load", attrs...)
}

// LogStoreFallback logs that a failed store contributes nothing to the merge
func (l *TrustLogger) LogStoreFallback(ctx context.Context, source string, err error) {
	attrs := append([]slog.Attr{slog.String("source", source)}, errorAttrs(err)...)
	l.log(ctx, slog.LevelError, "Certificate store skipped, trust is degraded", "store_fallback", attrs...)
}

// LogAliasOverride logs an alias collision resolved in favour of a later store
func (l *TrustLogger) LogAliasOverride(ctx context.Context, source, alias string) {
	l.log(ctx, slog.LevelDebug, "Alias replaced by later store", "alias_override",
		slog.String("source", source),
		slog.String("alias", alias),
	)
}

// LogMergeComplete logs the merged store summary
func (l *TrustLogger) LogMergeComplete(ctx context.Context, inputs, contributing, aliasCount int) {
	level := slog.LevelInfo
	if contributing < inputs {
		level = slog.LevelWarn
	}

	l.log(ctx, level, "Certificate stores merged", "merge_complete",
		slog.Int("inputs", inputs),
		slog.Int("contributing", contributing),
		slog.Int("alias_count", aliasCount),
	)
}

// LogContextBuild logs the outcome of building a secure transport context
func (l *TrustLogger) LogContextBuild(ctx context.Context, anchorCount int, err error) {
	if err != nil {
		attrs := append([]slog.Attr{slog.Int("anchor_count", anchorCount)}, errorAttrs(err)...)
		l.log(ctx, slog.LevelError, "Secure transport context build failed", "context_build", attrs...)
		return
	}

	l.log(ctx, slog.LevelInfo, "Secure transport context built", "context_build",
		slog.Int("anchor_count", anchorCount),
	)
}

// LogContextInstall logs the outcome of installing the process default context
func (l *TrustLogger) LogContextInstall(ctx context.Context, anchorCount int, err error) {
	if err != nil {
		attrs := append([]slog.Attr{slog.Int("anchor_count", anchorCount)}, errorAttrs(err)...)
		l.log(ctx, slog.LevelError, "Secure transport context not installed", "context_install", attrs...)
		return
	}

	l.log(ctx, slog.LevelInfo, "Merged root certificates installed as default trust", "context_install",
		slog.Int("anchor_count", anchorCount),
	)
}

// LogAuditResult logs the outcome of a trust anchor audit. A missing root is
// a warning; an unavailable provider is logged separately for diagnostics.
func (l *TrustLogger) LogAuditResult(ctx context.Context, result AuditResult, duration time.Duration) {
	attrs := []slog.Attr{
		slog.String("expected_subject", result.Expected),
		slog.String("outcome", string(result.Outcome)),
		slog.Int("scanned", result.Scanned),
		slog.Duration("duration", duration),
	}

	switch result.Outcome {
	case AuditRootPresent:
		l.log(ctx, slog.LevelDebug, "Expected root certificate present", "audit_result", attrs...)
	case AuditRootAbsent:
		l.log(ctx, slog.LevelWarn, "Expected root certificate missing from platform trust", "audit_result", attrs...)
	default:
		l.log(ctx, slog.LevelInfo, "Platform trust anchors unavailable, audit skipped", "audit_result",
			append(attrs, errorAttrs(result.Err)...)...)
	}
}

// LogStateChange logs a bootstrap state transition
func (l *TrustLogger) LogStateChange(ctx context.Context, from, to State) {
	level := slog.LevelDebug
	if to == StateDegraded {
		level = slog.LevelWarn
	}

	l.log(ctx, level, "Trust bootstrap state changed", "state_change",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

// LogCallbackPanic logs a state callback that panicked
func (l *TrustLogger) LogCallbackPanic(ctx context.Context, from, to State, recovered any) {
	l.log(ctx, slog.LevelError, "State change callback panicked", "callback_panic",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("panic", fmt.Sprint(recovered)),
	)
}
