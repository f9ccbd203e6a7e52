package tls

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func storeOf(t testing.TB, entries ...Entry) *CertificateStore {
	t.Helper()
	store := NewCertificateStore()
	for _, entry := range entries {
		store.set(entry.Alias, entry.Certificate)
	}
	return store
}

func TestMergePlatformWinsCollisions(t *testing.T) {
	x := newTestCA(t, "X")
	y := newTestCA(t, "Y")
	z := newTestCA(t, "Z")

	embedded := LoadResult{Source: "embedded", Store: storeOf(t, Entry{"a", x})}
	platform := LoadResult{Source: "platform", Store: storeOf(t, Entry{"a", y}, Entry{"b", z})}

	merged := NewTrustBootstrapper(discardLogger()).Merge(context.Background(), embedded, platform)

	require.Equal(t, []string{"a", "b"}, merged.Aliases())
	a, _ := merged.Get("a")
	b, _ := merged.Get("b")
	assert.True(t, a.Equal(y))
	assert.True(t, b.Equal(z))
}

func TestMergeSkipsFailedStore(t *testing.T) {
	x := newTestCA(t, "X")
	logger, capture := newCaptureLogger()

	embedded := LoadResult{Source: "embedded", Store: storeOf(t, Entry{"a", x})}
	platform := LoadResult{Source: "platform", Err: NewLoadPassphraseError("platform", errors.New("invalid digest"))}

	merged := NewTrustBootstrapper(logger).Merge(context.Background(), embedded, platform)

	assert.Equal(t, []string{"a"}, merged.Aliases())
	fallbacks := capture.byEvent("store_fallback")
	require.Len(t, fallbacks, 1)
	assert.Equal(t, "platform", recordAttr(fallbacks[0], "source"))

	summary := capture.byEvent("merge_complete")
	require.Len(t, summary, 1)
	assert.Equal(t, "1", recordAttr(summary[0], "contributing"))
}

func TestMergeAllFailed(t *testing.T) {
	merged := NewTrustBootstrapper(discardLogger()).Merge(context.Background(),
		LoadResult{Source: "embedded", Err: errors.New("boom")},
		LoadResult{Source: "platform", Err: errors.New("boom")},
	)
	assert.Equal(t, 0, merged.Len())
}

func TestMergeDoesNotDeduplicateContent(t *testing.T) {
	x := newTestCA(t, "X")

	merged := NewTrustBootstrapper(discardLogger()).MergeStores(context.Background(),
		storeOf(t, Entry{"first", x}),
		storeOf(t, Entry{"second", x}),
	)
	assert.Equal(t, []string{"first", "second"}, merged.Aliases())
}

func TestMergeLogsOverrides(t *testing.T) {
	logger, capture := newCaptureLogger()

	NewTrustBootstrapper(logger).MergeStores(context.Background(),
		storeOf(t, Entry{"a", newTestCA(t, "X")}),
		storeOf(t, Entry{"a", newTestCA(t, "Y")}),
	)

	overrides := capture.byEvent("alias_override")
	require.Len(t, overrides, 1)
	assert.Equal(t, "a", recordAttr(overrides[0], "alias"))
}

func TestMergeDoesNotModifyInputs(t *testing.T) {
	first := storeOf(t, Entry{"a", newTestCA(t, "X")})
	second := storeOf(t, Entry{"a", newTestCA(t, "Y")}, Entry{"b", newTestCA(t, "Z")})

	NewTrustBootstrapper(discardLogger()).MergeStores(context.Background(), first, second)

	assert.Equal(t, []string{"a"}, first.Aliases())
	assert.Equal(t, []string{"a", "b"}, second.Aliases())
}

func TestMergeProperties(t *testing.T) {
	pool := make([]*x509.Certificate, 6)
	for i := range pool {
		pool[i] = newTestCA(t, fmt.Sprintf("Pool %d", i))
	}
	aliases := []string{"a", "b", "c", "d", "e"}
	merger := NewTrustBootstrapper(discardLogger())

	rapid.Check(t, func(rt *rapid.T) {
		storeCount := rapid.IntRange(0, 4).Draw(rt, "stores")

		results := make([]LoadResult, 0, storeCount)
		for i := 0; i < storeCount; i++ {
			if rapid.Bool().Draw(rt, fmt.Sprintf("failed%d", i)) {
				results = append(results, LoadResult{Source: fmt.Sprintf("s%d", i), Err: errors.New("load failed")})
				continue
			}
			store := NewCertificateStore()
			entries := rapid.IntRange(0, 5).Draw(rt, fmt.Sprintf("entries%d", i))
			for j := 0; j < entries; j++ {
				alias := rapid.SampledFrom(aliases).Draw(rt, "alias")
				cert := rapid.SampledFrom(pool).Draw(rt, "cert")
				store.set(alias, cert)
			}
			results = append(results, LoadResult{Source: fmt.Sprintf("s%d", i), Store: store})
		}

		merged := merger.Merge(context.Background(), results...)

		// Expected: union of aliases, each mapped to the last store's certificate.
		expected := map[string]*x509.Certificate{}
		for _, result := range results {
			if !result.OK() {
				continue
			}
			for _, entry := range result.Store.Entries() {
				expected[entry.Alias] = entry.Certificate
			}
		}

		if merged.Len() != len(expected) {
			rt.Fatalf("merged has %d aliases, expected %d", merged.Len(), len(expected))
		}
		for alias, cert := range expected {
			got, ok := merged.Get(alias)
			if !ok {
				rt.Fatalf("alias %q missing from merge", alias)
			}
			if got != cert {
				rt.Fatalf("alias %q maps to %s, expected %s", alias, got.Subject, cert.Subject)
			}
		}
	})
}

func TestMergeIdempotentForSingleStore(t *testing.T) {
	pool := []*x509.Certificate{newTestCA(t, "One"), newTestCA(t, "Two")}
	merger := NewTrustBootstrapper(discardLogger())

	rapid.Check(t, func(rt *rapid.T) {
		store := NewCertificateStore()
		for _, alias := range rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,4}`), 0, 8).Draw(rt, "aliases") {
			store.set(alias, rapid.SampledFrom(pool).Draw(rt, "cert"))
		}

		once := merger.MergeStores(context.Background(), store)
		twice := merger.MergeStores(context.Background(), store, store)

		if fmt.Sprint(once.Aliases()) != fmt.Sprint(store.Aliases()) {
			rt.Fatalf("merge of one store changed aliases: %v vs %v", once.Aliases(), store.Aliases())
		}
		if fmt.Sprint(twice.Aliases()) != fmt.Sprint(store.Aliases()) {
			rt.Fatalf("merging a store with itself changed aliases: %v vs %v", twice.Aliases(), store.Aliases())
		}
	})
}
