package systemd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	sent, err := Ready()
	require.NoError(t, err)
	assert.False(t, sent)

	every, err := WatchdogInterval()
	require.NoError(t, err)
	assert.Zero(t, every)

	assert.NoError(t, Watchdog(t.Context(), nil))
}
