package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitReturnsWorkingShutdownFunc(t *testing.T) {
	shutdown, err := Init(context.Background(), "ragindex-test")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	err = shutdown(context.Background())
	require.NoError(t, err)
}
