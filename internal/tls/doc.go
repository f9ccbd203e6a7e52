// Package tls implements the startup trust bootstrap for outbound connections.
//
// It loads certificate stores (JKS, PKCS#12 or PEM), merges the embedded
// supplemental root pack with the platform store so that platform entries win
// alias collisions, builds a client TLS context that trusts exactly the merged
// anchors and installs it as the process default. Independently, it audits the
// platform's own trust anchors for a required root. Every failure degrades to
// the platform's existing trust and is reported through logs.
package tls
