package tls

import (
	_ "embed"
)

// embeddedRootPack is a JKS store of supplemental roots (ISRG Root X1 and X2)
// for platforms whose own store predates them.
//
//go:embed assets/lekeystore.jks
var embeddedRootPack []byte

// The passphrase only protects the integrity of public certificates.
const embeddedRootPackPassphrase = "supersecretpassword"

// EmbeddedSource returns the Source for the bundled supplemental root pack.
func EmbeddedSource() Source {
	return Source{
		Name:       "embedded",
		Data:       embeddedRootPack,
		Format:     FormatJKS,
		Passphrase: []byte(embeddedRootPackPassphrase),
	}
}
