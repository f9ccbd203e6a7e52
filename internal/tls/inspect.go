package tls

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strings"
	"time"
)

// AnchorInfo describes one trust anchor of a store
type AnchorInfo struct {
	Alias              string    `json:"alias" yaml:"alias"`
	Subject            string    `json:"subject" yaml:"subject"`
	Issuer             string    `json:"issuer" yaml:"issuer"`
	SHA256             string    `json:"sha256" yaml:"sha256"`
	NotBefore          time.Time `json:"not_before" yaml:"not_before"`
	NotAfter           time.Time `json:"not_after" yaml:"not_after"`
	SignatureAlgorithm string    `json:"signature_algorithm" yaml:"signature_algorithm"`
	KeySize            int       `json:"key_size,omitempty" yaml:"key_size,omitempty"`
	IsCA               bool      `json:"is_ca" yaml:"is_ca"`
	SelfSigned         bool      `json:"self_signed" yaml:"self_signed"`
	Warnings           []string  `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// InspectStore describes every anchor of store in alias order
func InspectStore(store *CertificateStore, now time.Time) []AnchorInfo {
	entries := store.Entries()
	infos := make([]AnchorInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, InspectAnchor(entry, now))
	}
	return infos
}

// InspectAnchor describes a single store entry
func InspectAnchor(entry Entry, now time.Time) AnchorInfo {
	cert := entry.Certificate
	info := AnchorInfo{
		Alias:              entry.Alias,
		Subject:            cert.Subject.String(),
		Issuer:             cert.Issuer.String(),
		SHA256:             entry.Fingerprint(),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		KeySize:            keySize(cert.PublicKey),
		IsCA:               cert.IsCA,
		SelfSigned:         isSelfSigned(cert),
	}

	switch {
	case now.After(cert.NotAfter):
		info.Warnings = append(info.Warnings, fmt.Sprintf("expired on %s", cert.NotAfter.Format(time.RFC3339)))
	case now.Before(cert.NotBefore):
		info.Warnings = append(info.Warnings, fmt.Sprintf("not valid before %s", cert.NotBefore.Format(time.RFC3339)))
	}

	if info.KeySize > 0 && info.KeySize < 2048 {
		if _, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			info.Warnings = append(info.Warnings, fmt.Sprintf("weak key size: %d bits", info.KeySize))
		}
	}

	if strings.Contains(strings.ToLower(info.SignatureAlgorithm), "sha1") {
		info.Warnings = append(info.Warnings, "uses SHA-1 signature algorithm")
	}

	return info
}

func keySize(publicKey interface{}) int {
	switch key := publicKey.(type) {
	case *rsa.PublicKey:
		return key.N.BitLen()
	case *ecdsa.PublicKey:
		return key.Curve.Params().BitSize
	case ed25519.PublicKey:
		return 256
	default:
		return 0
	}
}

func isSelfSigned(cert *x509.Certificate) bool {
	if cert.Subject.String() != cert.Issuer.String() {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}
