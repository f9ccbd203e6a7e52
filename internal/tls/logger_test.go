package tls

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIDContext(t *testing.T) {
	assert.Empty(t, RunIDFrom(context.Background()))

	ctx := WithRunID(context.Background(), "run-1")
	assert.Equal(t, "run-1", RunIDFrom(ctx))
}

func TestTrustLoggerAddsRunIDAndComponent(t *testing.T) {
	logger, capture := newCaptureLogger()
	ctx := WithRunID(context.Background(), "run-42")

	NewTrustLogger(logger).LogStoreLoad(ctx, "embedded", FormatJKS, 2, time.Millisecond, nil)

	records := capture.byEvent("store_load")
	require.Len(t, records, 1)
	assert.Equal(t, slog.LevelInfo, records[0].Level)
	assert.Equal(t, "run-42", recordAttr(records[0], "run_id"))
	assert.Equal(t, "trust", recordAttr(records[0], "component"))
	assert.Equal(t, "2", recordAttr(records[0], "alias_count"))
}

func TestTrustLoggerStoreLoadFailure(t *testing.T) {
	logger, capture := newCaptureLogger()
	err := NewLoadPassphraseError("platform", errors.New("digest mismatch"))

	NewTrustLogger(logger).LogStoreLoad(context.Background(), "platform", FormatJKS, 0, time.Millisecond, err)

	records := capture.byEvent("store_load")
	require.Len(t, records, 1)
	assert.Equal(t, slog.LevelError, records[0].Level)
	assert.Equal(t, string(ErrorTypeLoadBadPassphrase), recordAttr(records[0], "error_type"))
	assert.Empty(t, recordAttr(records[0], "alias_count"))
}

func TestTrustLoggerMergeLevel(t *testing.T) {
	logger, capture := newCaptureLogger()
	trust := NewTrustLogger(logger)

	trust.LogMergeComplete(context.Background(), 2, 2, 10)
	trust.LogMergeComplete(context.Background(), 2, 1, 5)

	records := capture.byEvent("merge_complete")
	require.Len(t, records, 2)
	assert.Equal(t, slog.LevelInfo, records[0].Level)
	assert.Equal(t, slog.LevelWarn, records[1].Level)
}

func TestTrustLoggerStateChange(t *testing.T) {
	logger, capture := newCaptureLogger()
	trust := NewTrustLogger(logger)

	trust.LogStateChange(context.Background(), StateNotStarted, StateLoading)
	trust.LogStateChange(context.Background(), StateLoading, StateDegraded)

	records := capture.byEvent("state_change")
	require.Len(t, records, 2)
	assert.Equal(t, slog.LevelDebug, records[0].Level)
	assert.Equal(t, "loading", recordAttr(records[0], "to"))
	assert.Equal(t, slog.LevelWarn, records[1].Level)
}

func TestTrustLoggerAuditUnavailableIsNotAWarning(t *testing.T) {
	logger, capture := newCaptureLogger()
	result := AuditResult{
		Expected: DefaultExpectedRoot,
		Outcome:  AuditUnavailable,
		Err:      NewAuditUnavailableError(errors.New("no provider")),
	}

	NewTrustLogger(logger).LogAuditResult(context.Background(), result, time.Millisecond)

	records := capture.byEvent("audit_result")
	require.Len(t, records, 1)
	assert.Equal(t, slog.LevelInfo, records[0].Level)
	assert.Equal(t, string(ErrorTypeAuditUnavailable), recordAttr(records[0], "error_type"))
}

func TestNewTrustLoggerNil(t *testing.T) {
	assert.NotPanics(t, func() {
		NewTrustLogger(nil).LogContextBuild(context.Background(), 1, nil)
	})
}
