package capture

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victortrac/calltally/internal/videocall"
)

func TestSliceSource(t *testing.T) {
	want := sampleObservations()
	src := NewSliceSource(want)
	assert.True(t, src.Replay())

	for i := range want {
		obs, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want[i], obs)
	}
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, videocall.ErrSourceClosed)
}

func TestSliceSourceHonoursContext(t *testing.T) {
	src := NewSliceSource(sampleObservations())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
