package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc/credentials"
)

const defaultClientTimeout = 30 * time.Second

// ContextOptions tunes the client TLS configuration built by SecureContextFactory.
type ContextOptions struct {
	MinVersion     string
	ClientCertFile string
	ClientKeyFile  string
}

// ParseTLSVersion maps "1.2" / "1.3" to the crypto/tls constants. An empty
// value selects TLS 1.2.
func ParseTLSVersion(value string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(value)), "tls") {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", value)
	}
}

// SecureTransportContext is an immutable client TLS configuration bound to a
// fixed set of trust anchors. Accessors hand out copies.
type SecureTransportContext struct {
	config  *tls.Config
	anchors []*x509.Certificate
	builtAt time.Time
	// shared serves Slot round trips once the context is installed.
	shared *http.Transport
}

// TLSConfig returns a copy of the client TLS configuration.
func (c *SecureTransportContext) TLSConfig() *tls.Config {
	return c.config.Clone()
}

// AnchorCount returns the number of trust anchors the context validates against.
func (c *SecureTransportContext) AnchorCount() int {
	return len(c.anchors)
}

// Subjects returns the subject of every trust anchor.
func (c *SecureTransportContext) Subjects() []string {
	subjects := make([]string, 0, len(c.anchors))
	for _, cert := range c.anchors {
		subjects = append(subjects, cert.Subject.String())
	}
	return subjects
}

// BuiltAt returns when the context was built.
func (c *SecureTransportContext) BuiltAt() time.Time {
	return c.builtAt
}

// HTTPTransport returns a new transport that validates servers against the context's anchors.
func (c *SecureTransportContext) HTTPTransport() *http.Transport {
	return newTransport(c.TLSConfig())
}

func newTransport(config *tls.Config) *http.Transport {
	var transport *http.Transport
	if base, ok := platformTransport.(*http.Transport); ok {
		transport = base.Clone()
	} else {
		transport = &http.Transport{Proxy: http.ProxyFromEnvironment, ForceAttemptHTTP2: true}
	}
	transport.TLSClientConfig = config
	return transport
}

// HTTPClient returns an instrumented HTTP client using HTTPTransport.
func (c *SecureTransportContext) HTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(c.HTTPTransport()),
		Timeout:   defaultClientTimeout,
	}
}

// GRPCCredentials returns gRPC transport credentials using the context's anchors.
func (c *SecureTransportContext) GRPCCredentials() credentials.TransportCredentials {
	return credentials.NewTLS(c.TLSConfig())
}

// ErrNoTransport is returned by Slot.RoundTrip when nothing is installed and
// the slot has no fallback transport.
var ErrNoTransport = errors.New("no transport available")

// Slot holds the process default SecureTransportContext. It accepts a single
// installation and is itself an http.RoundTripper: each request is sent
// through the installed context, or through the fallback before install.
// Transports are never mutated, so in-flight requests observe either the old
// or the new trust, never a mix.
type Slot struct {
	current  atomic.Pointer[SecureTransportContext]
	fallback http.RoundTripper
}

// NewSlot creates an empty slot. fallback serves requests before install and may be nil.
func NewSlot(fallback http.RoundTripper) *Slot {
	return &Slot{fallback: fallback}
}

// Current returns the installed context, or nil before installation.
func (s *Slot) Current() *SecureTransportContext {
	return s.current.Load()
}

// Install publishes c. Only the first call succeeds; later calls return
// ErrContextAlreadyInstalled and leave the installed context in place.
func (s *Slot) Install(c *SecureTransportContext) error {
	if c == nil || c.shared == nil {
		return NewInvalidAnchorSetError("nil context", nil)
	}
	if !s.current.CompareAndSwap(nil, c) {
		return ErrContextAlreadyInstalled
	}
	// Pooled connections were verified against the previous trust.
	closeIdle(s.fallback)
	return nil
}

// RoundTrip implements http.RoundTripper.
func (s *Slot) RoundTrip(req *http.Request) (*http.Response, error) {
	if c := s.current.Load(); c != nil {
		return c.shared.RoundTrip(req)
	}
	if s.fallback != nil {
		return s.fallback.RoundTrip(req)
	}
	return nil, ErrNoTransport
}

// CloseIdleConnections closes idle connections of the fallback and the installed context.
func (s *Slot) CloseIdleConnections() {
	closeIdle(s.fallback)
	if c := s.current.Load(); c != nil {
		c.shared.CloseIdleConnections()
	}
}

func closeIdle(rt http.RoundTripper) {
	if closer, ok := rt.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

var (
	// platformTransport is the net/http default transport as it was before
	// the process slot took its place.
	platformTransport = http.DefaultTransport
	processSlot       = NewSlot(platformTransport)
)

func init() {
	// Swapped once at startup, before any goroutine of this package can issue
	// requests; afterwards only the slot's atomic pointer changes.
	http.DefaultTransport = processSlot
}

// Default returns the process-wide context installed by the bootstrap, or nil.
func Default() *SecureTransportContext {
	return processSlot.Current()
}

// ProcessSlot returns the slot backing Default and http.DefaultTransport.
func ProcessSlot() *Slot {
	return processSlot
}

// SecureContextFactory builds SecureTransportContexts from merged trust stores
// and installs them into a Slot.
type SecureContextFactory struct {
	logger  *TrustLogger
	metrics *MetricsCollector
	options ContextOptions
	slot    *Slot
}

// NewSecureContextFactory creates a factory installing into slot. A nil slot
// selects the process slot.
func NewSecureContextFactory(logger *slog.Logger, metrics *MetricsCollector, options ContextOptions, slot *Slot) *SecureContextFactory {
	if slot == nil {
		slot = processSlot
	}
	return &SecureContextFactory{
		logger:  NewTrustLogger(logger),
		metrics: metrics,
		options: options,
		slot:    slot,
	}
}

// Build derives a client TLS configuration that trusts exactly the
// certificates of trust. An empty store is rejected, never widened to the
// system roots.
func (f *SecureContextFactory) Build(ctx context.Context, trust *CertificateStore) (*SecureTransportContext, error) {
	stc, err := f.build(trust)
	f.logger.LogContextBuild(ctx, trust.Len(), err)
	f.metrics.RecordContextBuild(ctx, trust.Len(), err)
	return stc, err
}

func (f *SecureContextFactory) build(trust *CertificateStore) (*SecureTransportContext, error) {
	minVersion, err := ParseTLSVersion(f.options.MinVersion)
	if err != nil {
		return nil, NewNoProviderError(err.Error())
	}

	if trust.Len() == 0 {
		return nil, NewInvalidAnchorSetError("no trust anchors", nil)
	}

	pool := x509.NewCertPool()
	anchors := trust.Certificates()
	for _, cert := range anchors {
		if cert == nil || len(cert.Raw) == 0 {
			return nil, NewInvalidAnchorSetError("empty certificate", nil)
		}
		pool.AddCert(cert)
	}

	config := &tls.Config{
		RootCAs:    pool,
		MinVersion: minVersion,
	}
	ApplySecureDefaults(config, GetSecurityDefaults())

	if f.options.ClientCertFile != "" || f.options.ClientKeyFile != "" {
		if f.options.ClientCertFile == "" || f.options.ClientKeyFile == "" {
			return nil, NewKeyManagementError(f.options.ClientCertFile, f.options.ClientKeyFile,
				errors.New("both client certificate and key are required"))
		}
		certificate, err := tls.LoadX509KeyPair(f.options.ClientCertFile, f.options.ClientKeyFile)
		if err != nil {
			return nil, NewKeyManagementError(f.options.ClientCertFile, f.options.ClientKeyFile, err)
		}
		config.Certificates = []tls.Certificate{certificate}
	}

	return &SecureTransportContext{
		config:  config,
		anchors: anchors,
		builtAt: time.Now(),
		shared:  newTransport(config.Clone()),
	}, nil
}

// Install publishes c as the default of the factory's slot.
func (f *SecureContextFactory) Install(ctx context.Context, c *SecureTransportContext) error {
	err := f.slot.Install(c)
	anchors := 0
	if c != nil {
		anchors = c.AnchorCount()
	}
	f.logger.LogContextInstall(ctx, anchors, err)
	return err
}
