package tls

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	keystore "github.com/pavlo-v-chernykh/keystore-go/v4"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

var serialCounter atomic.Int64

// certOptions contains options for generating test certificates
type certOptions struct {
	CommonName   string
	Organization []string
	NotBefore    time.Time
	NotAfter     time.Time
	IsCA         bool
	Parent       *x509.Certificate
	ParentKey    crypto.Signer
}

// generateCertificate creates a certificate, self-signed unless a parent is given
func generateCertificate(t testing.TB, opts certOptions) (*x509.Certificate, crypto.Signer) {
	t.Helper()

	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(365 * 24 * time.Hour)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(serialCounter.Add(1)),
		Subject: pkix.Name{
			CommonName:   opts.CommonName,
			Organization: opts.Organization,
		},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	if opts.IsCA {
		template.IsCA = true
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	} else {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	parent, parentKey := template, crypto.Signer(key)
	if opts.Parent != nil && opts.ParentKey != nil {
		parent, parentKey = opts.Parent, opts.ParentKey
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, parentKey)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

// newTestCA generates a self-signed CA certificate
func newTestCA(t testing.TB, commonName string) *x509.Certificate {
	t.Helper()
	cert, _ := generateCertificate(t, certOptions{CommonName: commonName, IsCA: true})
	return cert
}

func encodePEM(certs ...*x509.Certificate) []byte {
	var buf bytes.Buffer
	for _, cert := range certs {
		_ = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	}
	return buf.Bytes()
}

func encodeJKS(t testing.TB, entries []Entry, password string) []byte {
	t.Helper()

	ks := keystore.New()
	for _, entry := range entries {
		err := ks.SetTrustedCertificateEntry(entry.Alias, keystore.TrustedCertificateEntry{
			CreationTime: time.Now(),
			Certificate: keystore.Certificate{
				Type:    "X509",
				Content: entry.Certificate.Raw,
			},
		})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, ks.Store(&buf, []byte(password)))
	return buf.Bytes()
}

func encodePKCS12(t testing.TB, password string, certs ...*x509.Certificate) []byte {
	t.Helper()
	data, err := pkcs12.Modern.EncodeTrustStore(certs, password)
	require.NoError(t, err)
	return data
}

func writeTempFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// captureHandler records every log record for assertions
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
	attrs   []slog.Attr
}

func newCaptureLogger() (*slog.Logger, *captureHandler) {
	h := &captureHandler{}
	return slog.New(h), h
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	record = record.Clone()
	record.AddAttrs(h.attrs...)
	h.records = append(h.records, record)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Shares the record slice with the parent.
	return &sharedCaptureHandler{parent: h, attrs: attrs}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

// byEvent returns the records whose "event" attribute equals event
func (h *captureHandler) byEvent(event string) []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	var matched []slog.Record
	for _, record := range h.records {
		if recordAttr(record, "event") == event {
			matched = append(matched, record)
		}
	}
	return matched
}

type sharedCaptureHandler struct {
	parent *captureHandler
	attrs  []slog.Attr
}

func (h *sharedCaptureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *sharedCaptureHandler) Handle(ctx context.Context, record slog.Record) error {
	record = record.Clone()
	record.AddAttrs(h.attrs...)
	return h.parent.Handle(ctx, record)
}

func (h *sharedCaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &sharedCaptureHandler{parent: h.parent, attrs: combined}
}

func (h *sharedCaptureHandler) WithGroup(string) slog.Handler { return h }

func recordAttr(record slog.Record, key string) string {
	var value string
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			value = attr.Value.String()
			return false
		}
		return true
	})
	return value
}

// countingNotifier counts advisories
type countingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *countingNotifier) Warn(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}
