package tls

import (
	"context"
	"log/slog"
)

// TrustBootstrapper folds loaded stores into a single consolidated trust store.
type TrustBootstrapper struct {
	logger *TrustLogger
}

// NewTrustBootstrapper creates a TrustBootstrapper.
func NewTrustBootstrapper(logger *slog.Logger) *TrustBootstrapper {
	return &TrustBootstrapper{logger: NewTrustLogger(logger)}
}

// Merge combines results in order. A later store replaces the certificate of
// an alias set by an earlier one, so callers pass supplemental stores first
// and the platform store last. A failed result contributes nothing and is
// logged as a fallback. Certificates are never deduplicated by content.
func (b *TrustBootstrapper) Merge(ctx context.Context, results ...LoadResult) *CertificateStore {
	merged := NewCertificateStore()
	contributing := 0

	for _, result := range results {
		if !result.OK() {
			b.logger.LogStoreFallback(ctx, result.Source, result.Err)
			continue
		}

		contributing++
		for _, entry := range result.Store.Entries() {
			if merged.set(entry.Alias, entry.Certificate) {
				b.logger.LogAliasOverride(ctx, result.Source, entry.Alias)
			}
		}
	}

	b.logger.LogMergeComplete(ctx, len(results), contributing, merged.Len())
	return merged
}

// MergeStores is Merge for stores that are already known to be loaded.
func (b *TrustBootstrapper) MergeStores(ctx context.Context, stores ...*CertificateStore) *CertificateStore {
	results := make([]LoadResult, 0, len(stores))
	for _, store := range stores {
		results = append(results, LoadResult{Store: store})
	}
	return b.Merge(ctx, results...)
}
