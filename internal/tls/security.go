package tls

import (
	"crypto/tls"
)

// SecurityDefaults holds the client-side hardening applied to built contexts
type SecurityDefaults struct {
	// TLS 1.2 cipher suites ordered by preference; TLS 1.3 suites are not configurable
	CipherSuites     []uint16
	CurvePreferences []tls.CurveID
	MinTLSVersion    uint16
}

// GetSecurityDefaults returns the recommended client defaults
func GetSecurityDefaults() *SecurityDefaults {
	return &SecurityDefaults{
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384},
		MinTLSVersion:    tls.VersionTLS12,
	}
}

// ApplySecureDefaults hardens a client TLS configuration without touching its trust anchors
func ApplySecureDefaults(config *tls.Config, defaults *SecurityDefaults) {
	if config == nil || defaults == nil {
		return
	}

	if len(config.CipherSuites) == 0 {
		config.CipherSuites = append([]uint16(nil), defaults.CipherSuites...)
	}
	if len(config.CurvePreferences) == 0 {
		config.CurvePreferences = append([]tls.CurveID(nil), defaults.CurvePreferences...)
	}
	if config.MinVersion == 0 || config.MinVersion < defaults.MinTLSVersion {
		config.MinVersion = defaults.MinTLSVersion
	}

	config.Renegotiation = tls.RenegotiateNever
	config.InsecureSkipVerify = false
}
