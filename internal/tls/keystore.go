package tls

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	keystore "github.com/pavlo-v-chernykh/keystore-go/v4"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// StoreFormat identifies the encoding of a certificate store.
type StoreFormat string

const (
	FormatAuto   StoreFormat = "auto"
	FormatJKS    StoreFormat = "jks"
	FormatPKCS12 StoreFormat = "pkcs12"
	FormatPEM    StoreFormat = "pem"
)

// maxStoreSize bounds how much of a source is read.
const maxStoreSize = 16 << 20

var jksMagic = []byte{0xFE, 0xED, 0xFE, 0xED}

// jksInvalidDigest is keystore-go's integrity check failure. Truncated digests
// report a different error and count as malformed stores.
const jksInvalidDigest = "got invalid digest"

// ParseStoreFormat converts a configuration value into a StoreFormat.
func ParseStoreFormat(value string) (StoreFormat, error) {
	switch StoreFormat(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatJKS:
		return FormatJKS, nil
	case FormatPKCS12, "p12", "pfx":
		return FormatPKCS12, nil
	case FormatPEM, "crt":
		return FormatPEM, nil
	default:
		return "", fmt.Errorf("unknown store format %q", value)
	}
}

// Source describes one certificate store input. Either Path or Data is set.
type Source struct {
	Name       string
	Path       string
	Data       []byte
	Format     StoreFormat
	Passphrase []byte
}

// LoadResult is the outcome of loading one Source: exactly one of Store and Err is set.
type LoadResult struct {
	Source string
	Store  *CertificateStore
	Err    error
}

// OK reports whether the store loaded successfully.
func (r LoadResult) OK() bool {
	return r.Err == nil && r.Store != nil
}

// KeyStoreLoader decodes certificate stores into CertificateStores.
type KeyStoreLoader struct {
	logger  *TrustLogger
	metrics *MetricsCollector
	timeout time.Duration
}

// NewKeyStoreLoader creates a loader. A zero timeout disables the per-source read deadline.
func NewKeyStoreLoader(logger *slog.Logger, metrics *MetricsCollector, timeout time.Duration) *KeyStoreLoader {
	return &KeyStoreLoader{
		logger:  NewTrustLogger(logger),
		metrics: metrics,
		timeout: timeout,
	}
}

// LoadSource loads src and reports the outcome as a LoadResult, logging failures.
func (l *KeyStoreLoader) LoadSource(ctx context.Context, src Source) LoadResult {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		store *CertificateStore
		err   error
	)
	switch {
	case src.Data != nil:
		store, err = l.Load(ctx, src.Name, bytes.NewReader(src.Data), src.Format, src.Passphrase)
	case src.Path != "":
		store, err = l.LoadFile(ctx, src.Name, src.Path, src.Format, src.Passphrase)
	default:
		err = NewLoadIOError(src.Name, errors.New("source has neither path nor data"))
	}

	l.logger.LogStoreLoad(ctx, src.Name, src.Format, store.Len(), time.Since(start), err)
	l.metrics.RecordStoreLoad(ctx, src.Name, store.Len(), err)

	if err != nil {
		return LoadResult{Source: src.Name, Err: err}
	}
	return LoadResult{Source: src.Name, Store: store}
}

// LoadFile opens path and decodes it as a certificate store.
func (l *KeyStoreLoader) LoadFile(ctx context.Context, name, path string, format StoreFormat, passphrase []byte) (*CertificateStore, error) {
	// #nosec G304 -- store paths come from operator configuration
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, NewLoadIOError(name, err).WithContext("path", path)
	}
	defer f.Close()

	return l.Load(ctx, name, f, format, passphrase)
}

// Load reads src to completion and decodes it as a store of the given format.
func (l *KeyStoreLoader) Load(ctx context.Context, name string, src io.Reader, format StoreFormat, passphrase []byte) (*CertificateStore, error) {
	data, err := readAll(ctx, src)
	if err != nil {
		return nil, NewLoadIOError(name, err)
	}

	if format == FormatAuto || format == "" {
		format = sniffFormat(data)
	}

	switch format {
	case FormatJKS:
		return decodeJKS(name, data, passphrase)
	case FormatPKCS12:
		return decodePKCS12(name, data, passphrase)
	case FormatPEM:
		return decodePEM(name, data)
	default:
		return nil, NewLoadUnsupportedFormatError(name, format)
	}
}

func readAll(ctx context.Context, src io.Reader) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(io.LimitReader(src, maxStoreSize+1))
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if len(res.data) > maxStoreSize {
			return nil, fmt.Errorf("store exceeds %d bytes", maxStoreSize)
		}
		return res.data, nil
	}
}

func sniffFormat(data []byte) StoreFormat {
	switch {
	case bytes.HasPrefix(data, jksMagic):
		return FormatJKS
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")):
		return FormatPEM
	default:
		return FormatPKCS12
	}
}

func decodeJKS(name string, data, passphrase []byte) (*CertificateStore, error) {
	ks := keystore.New(keystore.WithOrderedAliases(), keystore.WithCaseExactAliases())
	if err := ks.Load(bytes.NewReader(data), passphrase); err != nil {
		if err.Error() == jksInvalidDigest {
			return nil, NewLoadPassphraseError(name, err)
		}
		return nil, NewLoadFormatError(name, FormatJKS, err)
	}

	store := NewCertificateStore()
	for _, alias := range ks.Aliases() {
		// Private key entries carry no trust.
		if !ks.IsTrustedCertificateEntry(alias) {
			continue
		}
		entry, err := ks.GetTrustedCertificateEntry(alias)
		if err != nil {
			return nil, NewLoadFormatError(name, FormatJKS, err).WithContext("alias", alias)
		}
		cert, err := x509.ParseCertificate(entry.Certificate.Content)
		if err != nil {
			return nil, NewLoadFormatError(name, FormatJKS, err).WithContext("alias", alias)
		}
		store.set(alias, cert)
	}
	return store, nil
}

func decodePKCS12(name string, data, passphrase []byte) (*CertificateStore, error) {
	certs, err := pkcs12.DecodeTrustStore(data, string(passphrase))
	if err != nil && len(passphrase) > 0 && strings.Contains(err.Error(), "no MAC") {
		// Password-less trust stores are accepted with any passphrase.
		certs, err = pkcs12.DecodeTrustStore(data, "")
	}
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, NewLoadPassphraseError(name, err)
		}
		return nil, NewLoadFormatError(name, FormatPKCS12, err)
	}

	store := NewCertificateStore()
	for _, cert := range certs {
		store.set(derivedAlias(store, cert), cert)
	}
	return store, nil
}

func decodePEM(name string, data []byte) (*CertificateStore, error) {
	store := NewCertificateStore()
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, NewLoadFormatError(name, FormatPEM, err)
		}
		store.set(derivedAlias(store, cert), cert)
	}

	if store.Len() == 0 {
		return nil, NewLoadFormatError(name, FormatPEM, errors.New("no certificates found"))
	}
	return store, nil
}

// derivedAlias names certificates from formats that carry no alias: the
// lower-cased subject CN without whitespace, else a fingerprint prefix.
func derivedAlias(store *CertificateStore, cert *x509.Certificate) string {
	fingerprint := Entry{Certificate: cert}.Fingerprint()

	alias := strings.ToLower(strings.Join(strings.Fields(cert.Subject.CommonName), ""))
	if alias == "" {
		alias = fingerprint[:16]
	}
	if store.Contains(alias) {
		alias = alias + "-" + fingerprint[:8]
	}
	return alias
}
