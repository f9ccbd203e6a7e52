package tls

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
)

// Entry is a single alias/certificate pair of a CertificateStore.
type Entry struct {
	Alias       string
	Certificate *x509.Certificate
}

// Fingerprint returns the hex SHA-256 of the DER-encoded certificate.
func (e Entry) Fingerprint() string {
	sum := sha256.Sum256(e.Certificate.Raw)
	return hex.EncodeToString(sum[:])
}

// CertificateStore is an insertion-ordered mapping from alias to certificate.
//
// Stores returned by the loader and by Merge are never modified afterwards;
// callers only get read access.
type CertificateStore struct {
	order []string
	certs map[string]*x509.Certificate
}

// NewCertificateStore returns an empty store.
func NewCertificateStore() *CertificateStore {
	return &CertificateStore{certs: make(map[string]*x509.Certificate)}
}

// set stores cert under alias, replacing any previous certificate while keeping
// the alias at its original position. It reports whether an entry was replaced.
func (s *CertificateStore) set(alias string, cert *x509.Certificate) bool {
	if _, exists := s.certs[alias]; exists {
		s.certs[alias] = cert
		return true
	}
	s.order = append(s.order, alias)
	s.certs[alias] = cert
	return false
}

// Len returns the number of aliases in the store.
func (s *CertificateStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Get returns the certificate stored under alias.
func (s *CertificateStore) Get(alias string) (*x509.Certificate, bool) {
	if s == nil {
		return nil, false
	}
	cert, ok := s.certs[alias]
	return cert, ok
}

// Contains reports whether alias is present.
func (s *CertificateStore) Contains(alias string) bool {
	_, ok := s.Get(alias)
	return ok
}

// Aliases returns the aliases in insertion order.
func (s *CertificateStore) Aliases() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Entries returns the alias/certificate pairs in insertion order.
func (s *CertificateStore) Entries() []Entry {
	if s == nil {
		return nil
	}
	entries := make([]Entry, 0, len(s.order))
	for _, alias := range s.order {
		entries = append(entries, Entry{Alias: alias, Certificate: s.certs[alias]})
	}
	return entries
}

// Certificates returns the certificates in alias insertion order.
func (s *CertificateStore) Certificates() []*x509.Certificate {
	if s == nil {
		return nil
	}
	certs := make([]*x509.Certificate, 0, len(s.order))
	for _, alias := range s.order {
		certs = append(certs, s.certs[alias])
	}
	return certs
}
