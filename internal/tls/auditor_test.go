package tls

import (
	"bytes"
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingAnchors struct{ err error }

func (f failingAnchors) Anchors(context.Context) ([]*x509.Certificate, error) {
	return nil, f.err
}

type panickingAnchors struct{}

func (panickingAnchors) Anchors(context.Context) ([]*x509.Certificate, error) {
	panic("provider crashed")
}

func expectedRootCA(t *testing.T) *x509.Certificate {
	t.Helper()
	cert, _ := generateCertificate(t, certOptions{
		CommonName:   "ISRG Root X1",
		Organization: []string{"Internet Security Research Group"},
		IsCA:         true,
	})
	return cert
}

func TestAuditRootPresent(t *testing.T) {
	root := newTestCA(t, "Expected Root")
	auditor := NewTrustAnchorAuditor(StaticAnchors{newTestCA(t, "Other"), root}, nil, discardLogger(), nil)

	result := auditor.Audit(context.Background(), "CN=Expected Root")
	assert.Equal(t, AuditRootPresent, result.Outcome)
	assert.True(t, result.RootPresent())
	assert.Equal(t, 2, result.Scanned)
	assert.NoError(t, result.Err)
}

func TestAuditRootAbsent(t *testing.T) {
	auditor := NewTrustAnchorAuditor(StaticAnchors{newTestCA(t, "Other")}, nil, discardLogger(), nil)

	result := auditor.Audit(context.Background(), DefaultExpectedRoot)
	assert.Equal(t, AuditRootAbsent, result.Outcome)
	assert.False(t, result.RootPresent())
	assert.Equal(t, 1, result.Scanned)
}

func TestAuditRequiresExactSubject(t *testing.T) {
	root := expectedRootCA(t)
	auditor := NewTrustAnchorAuditor(StaticAnchors{root}, nil, discardLogger(), nil)

	// The certificate lacks C=US, so the full default subject does not match.
	assert.Equal(t, AuditRootAbsent, auditor.Audit(context.Background(), DefaultExpectedRoot).Outcome)
	assert.Equal(t, AuditRootAbsent, auditor.Audit(context.Background(), "CN=ISRG Root X1").Outcome)
	assert.Equal(t, AuditRootPresent, auditor.Audit(context.Background(), root.Subject.String()).Outcome)
}

func TestAuditMatchesDistinguishedNameString(t *testing.T) {
	subject := pkix.Name{
		CommonName:   "ISRG Root X1",
		Organization: []string{"Internet Security Research Group"},
		Country:      []string{"US"},
	}
	assert.Equal(t, DefaultExpectedRoot, subject.String())
}

func TestAuditUnavailable(t *testing.T) {
	tests := map[string]AnchorSource{
		"provider error": failingAnchors{err: errors.New("keychain locked")},
		"no source":      nil,
		"panic":          panickingAnchors{},
	}

	for name, source := range tests {
		t.Run(name, func(t *testing.T) {
			notifier := &countingNotifier{}
			auditor := NewTrustAnchorAuditor(source, notifier, discardLogger(), nil)

			result := auditor.Check(context.Background(), DefaultExpectedRoot)
			assert.Equal(t, AuditUnavailable, result.Outcome)
			assert.False(t, result.RootPresent())
			assert.True(t, IsAuditUnavailable(result.Err))
			assert.Equal(t, 0, notifier.count())
		})
	}
}

func TestCheckNotifiesOnceWhenAbsent(t *testing.T) {
	notifier := &countingNotifier{}
	auditor := NewTrustAnchorAuditor(StaticAnchors{newTestCA(t, "Other")}, notifier, discardLogger(), nil)

	result := auditor.Check(context.Background(), DefaultExpectedRoot)
	assert.Equal(t, AuditRootAbsent, result.Outcome)
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, MissingRootMessage(DefaultExpectedRoot), notifier.messages[0])
}

func TestCheckSilentWhenPresent(t *testing.T) {
	notifier := &countingNotifier{}
	auditor := NewTrustAnchorAuditor(StaticAnchors{newTestCA(t, "Expected")}, notifier, discardLogger(), nil)

	auditor.Check(context.Background(), "CN=Expected")
	assert.Equal(t, 0, notifier.count())
}

func TestAuditNeverNotifies(t *testing.T) {
	notifier := &countingNotifier{}
	auditor := NewTrustAnchorAuditor(StaticAnchors{}, notifier, discardLogger(), nil)

	assert.Equal(t, AuditRootAbsent, auditor.Audit(context.Background(), DefaultExpectedRoot).Outcome)
	assert.Equal(t, 0, notifier.count())
}

func TestAuditLogsWarningWhenAbsent(t *testing.T) {
	logger, capture := newCaptureLogger()
	auditor := NewTrustAnchorAuditor(StaticAnchors{}, nil, logger, nil)

	auditor.Audit(context.Background(), DefaultExpectedRoot)

	records := capture.byEvent("audit_result")
	require.Len(t, records, 1)
	assert.Equal(t, "WARN", records[0].Level.String())
	assert.Equal(t, "absent", recordAttr(records[0], "outcome"))
}

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleNotifier(&buf).Warn(context.Background(), MissingRootMessage("CN=Test"))

	assert.Contains(t, buf.String(), `"CN=Test"`)
	assert.Contains(t, buf.String(), "Potential issues have been detected.")
}

func TestNotifierFunc(t *testing.T) {
	var got string
	var notifier Notifier = NotifierFunc(func(_ context.Context, message string) { got = message })
	notifier.Warn(context.Background(), "hello")
	assert.Equal(t, "hello", got)
}

func TestCheckMissingRootAmongUnrelatedAnchors(t *testing.T) {
	logger, capture := newCaptureLogger()
	notifier := &countingNotifier{}
	anchors := StaticAnchors{
		newTestCA(t, "Unrelated One"),
		newTestCA(t, "Unrelated Two"),
		newTestCA(t, "Unrelated Three"),
	}

	result := NewTrustAnchorAuditor(anchors, notifier, logger, nil).Check(context.Background(), "CN=Missing CA")

	assert.Equal(t, AuditRootAbsent, result.Outcome)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, notifier.count())

	records := capture.byEvent("audit_result")
	require.Len(t, records, 1)
	assert.Equal(t, slog.LevelWarn, records[0].Level)
}
