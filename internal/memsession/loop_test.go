package memsession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/muxhttp/v2/internal/transport"
)

func TestEventLoop_FIFO(t *testing.T) {
	var l EventLoop
	var order []int
	l.Post(func() {
		order = append(order, 1)
		l.Post(func() { order = append(order, 3) })
	})
	l.Post(func() { order = append(order, 2) })
	assert.Equal(t, 2, l.Pending())

	assert.Equal(t, 3, l.RunUntilIdle())
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Zero(t, l.Pending())
	assert.False(t, l.RunOne())
}

func TestEventLoop_NestedRunPanics(t *testing.T) {
	var l EventLoop
	l.Post(func() { l.RunUntilIdle() })
	assert.Panics(t, func() { l.RunUntilIdle() })
}

func TestSendWindow(t *testing.T) {
	w := newSendWindow(10, 5)
	n, err := w.Acquire(4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = w.Acquire(100)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Zero(t, w.Available())

	n, err = w.Acquire(1)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, w.Increase(3))
	assert.Equal(t, int64(3), w.Available())

	var se *transport.StreamError
	require.ErrorAs(t, w.Increase(0), &se)
	assert.Equal(t, transport.StreamID(5), se.StreamID)

	w.Close()
	_, err = w.Acquire(1)
	assert.Error(t, err)
	assert.Error(t, w.Increase(1))
}

func TestSendWindow_Overflow(t *testing.T) {
	w := newSendWindow(MaxWindowSize, 7)
	err := w.Increase(1)
	require.Error(t, err)
	// The window stays poisoned.
	_, err2 := w.Acquire(1)
	assert.Equal(t, err, err2)
}

func TestSendWindow_Unlimited(t *testing.T) {
	w := newSendWindow(0, 5)
	n, err := w.Acquire(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, 1<<20, n)
	assert.Equal(t, int64(MaxWindowSize), w.Available())
	assert.NoError(t, w.Increase(1))
}
