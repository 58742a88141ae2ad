package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "  ", "recruit-workflow")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_WithEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "http://127.0.0.1:4318", "recruit-workflow")
	require.NoError(t, err)

	// Nothing was exported, so shutdown does not need a live collector
	assert.NoError(t, shutdown(context.Background()))
}
