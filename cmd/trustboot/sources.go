package main

import (
	"log/slog"

	trusttls "github.com/polisai/trustboot/internal/tls"
	"github.com/polisai/trustboot/pkg/config"
)

// trustInputs are the merge sources and the audited platform anchors derived
// from configuration.
type trustInputs struct {
	sources  []trusttls.Source
	platform trusttls.AnchorSource
}

// buildTrustInputs orders the sources embedded pack, bundles, platform store,
// so the platform store wins alias collisions. A bundle that cannot be
// materialised is skipped like any other failed store.
func buildTrustInputs(cfg *config.Config, loader *trusttls.KeyStoreLoader, logger *slog.Logger) trustInputs {
	var inputs trustInputs

	if cfg.Trust.EmbeddedStore.Enabled {
		inputs.sources = append(inputs.sources, trusttls.EmbeddedSource())
	}

	for _, bundle := range cfg.Trust.Bundles {
		src, err := bundle.Source()
		if err != nil {
			logger.Error("Skipping trust bundle", "bundle", bundle.Name, "error", err)
			continue
		}
		inputs.sources = append(inputs.sources, src)
	}

	// Validate has already normalised the format.
	format := trusttls.StoreFormat(cfg.Trust.PlatformStore.Format)
	platform, err := trusttls.PlatformSource(cfg.Trust.PlatformStore.Path, format, cfg.Trust.PlatformStore.Passphrase)
	if err != nil {
		logger.Warn("Platform certificate store not found", "error", err)
	} else {
		inputs.sources = append(inputs.sources, platform)
	}
	inputs.platform = trusttls.NewPlatformAnchors(loader, platform, err)

	return inputs
}

// contextOptions maps the trust configuration onto the context factory options.
func contextOptions(cfg *config.Config) trusttls.ContextOptions {
	return trusttls.ContextOptions{
		MinVersion:     cfg.Trust.MinTLSVersion,
		ClientCertFile: cfg.Trust.ClientCertFile,
		ClientKeyFile:  cfg.Trust.ClientKeyFile,
	}
}

// bootstrapConfig assembles the bootstrap inputs. slot may be nil for the process slot.
func bootstrapConfig(cfg *config.Config, inputs trustInputs, notifier trusttls.Notifier, slot *trusttls.Slot) trusttls.BootstrapConfig {
	return trusttls.BootstrapConfig{
		Sources:         inputs.sources,
		PlatformAnchors: inputs.platform,
		ExpectedRoot:    cfg.Trust.ExpectedRoot,
		Context:         contextOptions(cfg),
		LoadTimeout:     cfg.Trust.LoadTimeout,
		Slot:            slot,
		Notifier:        notifier,
	}
}
