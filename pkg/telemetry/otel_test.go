package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupProviderWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{ServiceName: "trustboot"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
