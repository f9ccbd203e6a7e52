package tls

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
)

// DefaultPlatformPassphrase is the well-known integrity passphrase of JVM
// cacerts stores. PEM bundles ignore it.
const DefaultPlatformPassphrase = "changeit"

// Possible platform bundle files; discovery stops at the first one found.
var platformBundleFiles = []string{
	"/etc/ssl/certs/ca-certificates.crt",                // Debian/Ubuntu/Gentoo etc.
	"/etc/pki/tls/certs/ca-bundle.crt",                  // Fedora/RHEL 6
	"/etc/ssl/ca-bundle.pem",                            // OpenSUSE
	"/etc/pki/tls/cacert.pem",                           // OpenELEC
	"/etc/pki/ca-trust/extracted/pem/tls-ca-bundle.pem", // CentOS/RHEL 7
	"/etc/ssl/cert.pem",                                 // Alpine, OpenBSD, macOS
	"/usr/local/share/certs/ca-root-nss.crt",            // FreeBSD
}

// ErrNoPlatformStore is returned when no platform certificate store can be found.
var ErrNoPlatformStore = errors.New("no platform certificate store found")

// PlatformSource returns the Source for the platform store. An empty path
// triggers discovery.
func PlatformSource(path string, format StoreFormat, passphrase string) (Source, error) {
	if passphrase == "" {
		passphrase = DefaultPlatformPassphrase
	}
	if path == "" {
		discovered, err := discoverPlatformStore(platformBundleFiles, os.Getenv)
		if err != nil {
			return Source{Name: "platform", Format: format, Passphrase: []byte(passphrase)}, err
		}
		path = discovered
	}
	return Source{
		Name:       "platform",
		Path:       path,
		Format:     format,
		Passphrase: []byte(passphrase),
	}, nil
}

func discoverPlatformStore(candidates []string, getenv func(string) string) (string, error) {
	if file := getenv("SSL_CERT_FILE"); file != "" && fileExists(file) {
		return file, nil
	}
	for _, file := range candidates {
		if fileExists(file) {
			return file, nil
		}
	}
	if javaHome := getenv("JAVA_HOME"); javaHome != "" {
		cacerts := filepath.Join(javaHome, "lib", "security", "cacerts")
		if fileExists(cacerts) {
			return cacerts, nil
		}
	}
	return "", ErrNoPlatformStore
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// AnchorSource enumerates the trust anchors a platform accepts.
type AnchorSource interface {
	Anchors(ctx context.Context) ([]*x509.Certificate, error)
}

// PlatformAnchors reads the platform store on every call, independently of
// any merge.
type PlatformAnchors struct {
	loader *KeyStoreLoader
	source Source
	err    error
}

// NewPlatformAnchors creates an AnchorSource over source. resolveErr is the
// error from resolving the source, if any; it is reported by Anchors.
func NewPlatformAnchors(loader *KeyStoreLoader, source Source, resolveErr error) *PlatformAnchors {
	return &PlatformAnchors{loader: loader, source: source, err: resolveErr}
}

// Anchors loads the platform store and returns its certificates.
func (p *PlatformAnchors) Anchors(ctx context.Context) ([]*x509.Certificate, error) {
	if p.err != nil {
		return nil, p.err
	}
	var (
		store *CertificateStore
		err   error
	)
	if p.source.Data != nil {
		store, err = p.loader.Load(ctx, p.source.Name, bytes.NewReader(p.source.Data), p.source.Format, p.source.Passphrase)
	} else {
		store, err = p.loader.LoadFile(ctx, p.source.Name, p.source.Path, p.source.Format, p.source.Passphrase)
	}
	if err != nil {
		return nil, err
	}
	return store.Certificates(), nil
}

// StaticAnchors is an AnchorSource over a fixed certificate list.
type StaticAnchors []*x509.Certificate

// Anchors returns the list.
func (s StaticAnchors) Anchors(context.Context) ([]*x509.Certificate, error) {
	return s, nil
}
