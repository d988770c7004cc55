package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Parallel()

	dev, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, dev)

	prod, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, prod)

	// Components log through named children; info must be enabled on them.
	child := prod.Named("pipeline")
	require.True(t, child.Core().Enabled(zap.InfoLevel))
	require.False(t, child.Core().Enabled(zap.DebugLevel))
}
