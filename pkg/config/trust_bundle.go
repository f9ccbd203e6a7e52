package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	trusttls "github.com/polisai/trustboot/internal/tls"
)

// TrustBundle is a PEM certificate bundle merged into the trust store.
type TrustBundle struct {
	Name   string `json:"name" yaml:"name"`
	Path   string `json:"path" yaml:"path"`
	Inline string `json:"inline" yaml:"inline"`
	SHA256 string `json:"sha256" yaml:"sha256"`
	cached []byte
}

// Materialise returns the PEM-encoded contents for the bundle.
func (b *TrustBundle) Materialise() ([]byte, error) {
	if len(b.cached) > 0 {
		return append([]byte(nil), b.cached...), nil
	}

	var data []byte
	var err error
	switch {
	case strings.TrimSpace(b.Inline) != "":
		data = []byte(b.Inline)
	case strings.TrimSpace(b.Path) != "":
		path := filepath.Clean(b.Path)
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("trust bundle %s: read: %w", b.Name, err)
		}
	default:
		return nil, fmt.Errorf("trust bundle %s: no path or inline data provided", b.Name)
	}

	if err := b.verifyChecksum(data); err != nil {
		return nil, err
	}

	b.cached = append([]byte(nil), data...)
	return append([]byte(nil), data...), nil
}

func (b *TrustBundle) verifyChecksum(data []byte) error {
	if b.SHA256 == "" {
		return nil
	}

	expected := strings.TrimSpace(strings.ToLower(b.SHA256))
	expected = strings.TrimPrefix(expected, "sha256:")
	digest := sha256.Sum256(data)
	actual := hex.EncodeToString(digest[:])
	if actual != expected {
		return fmt.Errorf("trust bundle %s: checksum mismatch", b.Name)
	}
	return nil
}

// Source materialises the bundle as a PEM store source for the loader.
func (b *TrustBundle) Source() (trusttls.Source, error) {
	data, err := b.Materialise()
	if err != nil {
		return trusttls.Source{}, err
	}
	return trusttls.Source{
		Name:   "bundle:" + b.Name,
		Path:   b.Path,
		Data:   data,
		Format: trusttls.FormatPEM,
	}, nil
}
