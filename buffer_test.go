// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ReadOnce appends a single read at the tail until the buffer is full.
func TestBufferReadOnce(t *testing.T) {
	buf := newBuffer(4)
	src := strings.NewReader("ABCDEF")

	count, err := buf.ReadOnce(&limitedOnceReader{r: src, max: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, "ABC", string(buf.Bytes()))
	assert.Equal(t, 1, buf.Available())
	assert.False(t, buf.Full())

	count, err = buf.ReadOnce(src)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "ABCD", string(buf.Bytes()))
	assert.True(t, buf.Full())

	// A full buffer does not consume from the reader
	count, err = buf.ReadOnce(src)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 2, src.Len())

	buf.Reset()
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 4, buf.Cap())
}

// ReadOnce returns both the bytes and the error of the read.
func TestBufferReadOnceError(t *testing.T) {
	buf := newBuffer(4)

	count, err := buf.ReadOnce(strings.NewReader(""))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, count)

	wantErr := errors.New("mocked error")
	count, err = buf.ReadOnce(errReader{wantErr})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, buf.Len())
}

// The pool hands out empty buffers of the configured size and counts them.
func TestSyncBufferPool(t *testing.T) {
	pool := NewBufferPool(8)
	assert.Equal(t, 8, pool.BufferSize())

	buf := pool.Borrow()
	require.NotNil(t, buf)
	assert.Equal(t, 8, buf.Cap())
	assert.Equal(t, 0, buf.Len())

	_, err := buf.ReadOnce(strings.NewReader("abc"))
	require.NoError(t, err)
	pool.Recycle(buf)

	// Whatever we get back must be empty
	again := pool.Borrow()
	assert.Equal(t, 0, again.Len())
	pool.Recycle(again)

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Borrows)
	assert.Equal(t, int64(2), stats.Recycles)
	assert.Equal(t, int64(0), stats.Outstanding())
	assert.GreaterOrEqual(t, stats.Allocations, int64(1))
}

// Recycling a buffer twice reveals a double owner and panics.
func TestSyncBufferPoolDoubleRecycle(t *testing.T) {
	pool := NewBufferPool(8)
	buf := pool.Borrow()
	pool.Recycle(buf)

	assert.Panics(t, func() {
		pool.Recycle(buf)
	})
}

// The pool refuses to be created with a non-positive size.
func TestNewBufferPoolInvalidSize(t *testing.T) {
	assert.Panics(t, func() {
		NewBufferPool(0)
	})
}

// Buffers from a pool with another size are accounted for but not reused.
func TestSyncBufferPoolForeignBuffer(t *testing.T) {
	pool := NewBufferPool(8)
	other := NewBufferPool(16)

	buf := other.Borrow()
	pool.Recycle(buf)

	assert.Equal(t, int64(1), pool.Stats().Recycles)
	assert.Equal(t, 8, pool.Borrow().Cap())
}

// limitedOnceReader returns at most max bytes per Read.
type limitedOnceReader struct {
	r   io.Reader
	max int
}

func (r *limitedOnceReader) Read(data []byte) (int, error) {
	if len(data) > r.max {
		data = data[:r.max]
	}
	return r.r.Read(data)
}
