package platform

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRejected(t *testing.T) {
	t.Parallel()
	base := errors.New("end before start")
	err := fmt.Errorf("create shift s1: %w", Rejected(base))

	assert.True(t, IsRejected(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "rejected by destination")

	assert.False(t, IsRejected(errors.New("timeout")))
	assert.False(t, IsRejected(fmt.Errorf("shift s2: %w", ErrUnresolved)))
	assert.False(t, IsRejected(nil))
}
