package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterRollingWindow(t *testing.T) {
	c := NewMemoryCounter().(*memoryCounter)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.clock = func() time.Time { return now }
	ctx := context.Background()

	n, err := c.Incr(ctx, "u1", 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	now = now.Add(12 * time.Hour)
	n, err = c.Incr(ctx, "u1", 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// First hit expires 24h after it was recorded.
	now = now.Add(13 * time.Hour)
	n, err = c.Count(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = c.Count(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, n)
}
