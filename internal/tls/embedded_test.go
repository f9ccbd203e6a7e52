package tls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedSourceLoads(t *testing.T) {
	result := newTestLoader().LoadSource(context.Background(), EmbeddedSource())
	require.True(t, result.OK(), "embedded root pack failed to load: %v", result.Err)

	assert.Equal(t, []string{"isrgrootx1", "isrgrootx2"}, result.Store.Aliases())

	x1, ok := result.Store.Get("isrgrootx1")
	require.True(t, ok)
	assert.Equal(t, DefaultExpectedRoot, x1.Subject.String())
	assert.True(t, x1.IsCA)
}

func TestEmbeddedSourceSniffsAsJKS(t *testing.T) {
	assert.Equal(t, FormatJKS, sniffFormat(EmbeddedSource().Data))
}
