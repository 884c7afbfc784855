package model_test

import (
	"testing"

	"github.com/CZERTAINLY/jobcast/internal/model"
	"github.com/stretchr/testify/require"
)

func TestStateTerminal(t *testing.T) {
	t.Parallel()
	require.False(t, model.StateQueued.Terminal())
	require.False(t, model.StateRunning.Terminal())
	require.True(t, model.StateCompleted.Terminal())
	require.True(t, model.StateFailed.Terminal())
	require.True(t, model.StateCancelled.Terminal())
}

func TestTerminal(t *testing.T) {
	t.Parallel()
	e := model.Terminal(model.StateFailed, "exit code 2")
	require.True(t, e.IsTerminal())
	require.Equal(t, model.StateFailed, e.Outcome)
	require.Equal(t, "exit code 2", e.Detail)

	require.Panics(t, func() { model.Terminal(model.StateRunning, "") })
	require.False(t, model.Log("x").IsTerminal())
}
