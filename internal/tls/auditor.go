package tls

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
)

// DefaultExpectedRoot is the subject of the root authority the audit looks for.
const DefaultExpectedRoot = "CN=ISRG Root X1,O=Internet Security Research Group,C=US"

// AuditOutcome is the result category of a trust anchor audit.
type AuditOutcome string

const (
	AuditRootPresent AuditOutcome = "present"
	AuditRootAbsent  AuditOutcome = "absent"
	AuditUnavailable AuditOutcome = "unavailable"
)

// AuditResult is the outcome of a single audit.
type AuditResult struct {
	Expected string
	Outcome  AuditOutcome
	Scanned  int
	Err      error
}

// RootPresent reports whether the expected root was found. Unavailable
// audits report false, like absent ones.
func (r AuditResult) RootPresent() bool {
	return r.Outcome == AuditRootPresent
}

// Notifier delivers non-blocking, user-visible advisories.
type Notifier interface {
	Warn(ctx context.Context, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, message string)

// Warn calls f.
func (f NotifierFunc) Warn(ctx context.Context, message string) {
	f(ctx, message)
}

// ConsoleNotifier prints advisories to a terminal.
type ConsoleNotifier struct {
	out io.Writer
}

// NewConsoleNotifier creates a notifier writing to out, or stderr when nil.
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleNotifier{out: out}
}

// Warn prints message followed by a notice that the application keeps running.
func (n *ConsoleNotifier) Warn(_ context.Context, message string) {
	warning := color.New(color.FgYellow, color.Bold)
	_, _ = warning.Fprintln(n.out, message)
	_, _ = fmt.Fprintln(n.out, "Potential issues have been detected.")
}

// MissingRootMessage is the advisory shown when the expected root is absent.
func MissingRootMessage(expected string) string {
	return fmt.Sprintf("The root certificate authority %q is missing from this system's trust store. "+
		"Secure connections to some services may fail; please update the operating system's certificates.", expected)
}

// TrustAnchorAuditor checks the platform's own trust anchors for a named root.
type TrustAnchorAuditor struct {
	source   AnchorSource
	notifier Notifier
	logger   *TrustLogger
	metrics  *MetricsCollector
}

// NewTrustAnchorAuditor creates an auditor. notifier may be nil.
func NewTrustAnchorAuditor(source AnchorSource, notifier Notifier, logger *slog.Logger, metrics *MetricsCollector) *TrustAnchorAuditor {
	return &TrustAnchorAuditor{
		source:   source,
		notifier: notifier,
		logger:   NewTrustLogger(logger),
		metrics:  metrics,
	}
}

// Audit enumerates the anchors and compares each subject exactly against
// expectedSubject. It never installs anything and never notifies.
func (a *TrustAnchorAuditor) Audit(ctx context.Context, expectedSubject string) (result AuditResult) {
	start := time.Now()
	result = AuditResult{Expected: expectedSubject, Outcome: AuditRootAbsent}

	defer func() {
		if r := recover(); r != nil {
			result = AuditResult{
				Expected: expectedSubject,
				Outcome:  AuditUnavailable,
				Err:      NewAuditUnavailableError(fmt.Errorf("panic: %v", r)),
			}
		}
		a.logger.LogAuditResult(ctx, result, time.Since(start))
		a.metrics.RecordAudit(ctx, result.Outcome)
	}()

	if a.source == nil {
		result.Outcome = AuditUnavailable
		result.Err = NewAuditUnavailableError(fmt.Errorf("no anchor source"))
		return result
	}

	anchors, err := a.source.Anchors(ctx)
	if err != nil {
		result.Outcome = AuditUnavailable
		result.Err = NewAuditUnavailableError(err)
		return result
	}

	for _, cert := range anchors {
		result.Scanned++
		if cert != nil && cert.Subject.String() == expectedSubject {
			result.Outcome = AuditRootPresent
			return result
		}
	}
	return result
}

// Check runs Audit and, when the root is absent, sends exactly one advisory
// to the notifier. Unavailable audits are only logged.
func (a *TrustAnchorAuditor) Check(ctx context.Context, expectedSubject string) AuditResult {
	result := a.Audit(ctx, expectedSubject)
	if result.Outcome == AuditRootAbsent && a.notifier != nil {
		a.notifier.Warn(ctx, MissingRootMessage(expectedSubject))
	}
	return result
}
