// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/bassosimone/runtimex"
)

// DefaultBufferSize is the capacity of the buffers handed out by the
// [*SyncBufferPool] that [NewConfig] configures.
const DefaultBufferSize = 8 * 1024

// Buffer is a fixed-capacity byte buffer borrowed from a [BufferPool].
//
// A Buffer has exactly one owner at a time: the [*ResponseConsumer]
// while filling it, the transfer queue while in transit, and the drain
// task while writing it. Bytes are appended at the tail until the
// buffer is [Buffer.Full].
type Buffer struct {
	// data is the backing storage; len(data) is the capacity.
	data []byte

	// n is the number of valid bytes at the beginning of data.
	n int

	// borrowed is true between Borrow and Recycle.
	borrowed atomic.Bool
}

// newBuffer allocates a [*Buffer] with the given capacity.
func newBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// Bytes returns the valid bytes. The slice aliases the buffer
// storage and is only valid until the buffer is recycled.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// Len returns the number of valid bytes.
func (b *Buffer) Len() int {
	return b.n
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Available returns the number of bytes that can still be appended.
func (b *Buffer) Available() int {
	return len(b.data) - b.n
}

// Full returns whether no more bytes can be appended.
func (b *Buffer) Full() bool {
	return b.n >= len(b.data)
}

// Reset discards the valid bytes so that the buffer can be refilled.
func (b *Buffer) Reset() {
	b.n = 0
}

// ReadOnce performs a single Read from r into the free tail of the buffer
// and returns the number of bytes appended along with the Read error.
//
// A full buffer is not read into and ReadOnce returns (0, nil).
func (b *Buffer) ReadOnce(r io.Reader) (int, error) {
	if b.Full() {
		return 0, nil
	}
	count, err := r.Read(b.data[b.n:])
	if count > 0 {
		b.n += count
	}
	return count, err
}

// BufferPool hands out and reclaims fixed-capacity buffers.
//
// Implementations must be safe for concurrent use, since the producer
// side and the drain task borrow and recycle from different goroutines.
type BufferPool interface {
	// Borrow returns an empty buffer. It never blocks and never fails.
	Borrow() *Buffer

	// BufferSize returns the capacity of the buffers returned by Borrow.
	BufferSize() int

	// Recycle returns a buffer obtained using Borrow to the pool.
	Recycle(buf *Buffer)
}

// BufferPoolStats contains [*SyncBufferPool] statistics.
type BufferPoolStats struct {
	// Allocations counts buffers allocated because the pool was empty.
	Allocations int64

	// Borrows counts calls to Borrow.
	Borrows int64

	// Recycles counts calls to Recycle.
	Recycles int64
}

// Outstanding returns the number of buffers borrowed and not yet recycled.
func (s BufferPoolStats) Outstanding() int64 {
	return s.Borrows - s.Recycles
}

// SyncBufferPool is a [BufferPool] backed by a [sync.Pool].
//
// Construct using [NewBufferPool].
type SyncBufferPool struct {
	allocations atomic.Int64
	borrows     atomic.Int64
	pool        sync.Pool
	recycles    atomic.Int64
	size        int
}

var _ BufferPool = &SyncBufferPool{}

// NewBufferPool returns a new [*SyncBufferPool] handing out buffers with
// the given capacity, which must be positive.
func NewBufferPool(size int) *SyncBufferPool {
	runtimex.Assert(size > 0)
	p := &SyncBufferPool{size: size}
	p.pool.New = func() any {
		p.allocations.Add(1)
		return newBuffer(size)
	}
	return p
}

// Borrow implements [BufferPool].
func (p *SyncBufferPool) Borrow() *Buffer {
	p.borrows.Add(1)
	buf := p.pool.Get().(*Buffer)
	buf.borrowed.Store(true)
	return buf
}

// BufferSize implements [BufferPool].
func (p *SyncBufferPool) BufferSize() int {
	return p.size
}

// Recycle implements [BufferPool].
//
// Recycling a buffer that is not currently borrowed panics, since it
// means two owners were holding the same buffer. Buffers with a
// capacity other than [SyncBufferPool.BufferSize] are dropped.
func (p *SyncBufferPool) Recycle(buf *Buffer) {
	runtimex.Assert(buf.borrowed.Swap(false))
	p.recycles.Add(1)
	buf.Reset()
	if buf.Cap() != p.size {
		return
	}
	p.pool.Put(buf)
}

// Stats returns the pool statistics.
func (p *SyncBufferPool) Stats() BufferPoolStats {
	return BufferPoolStats{
		Allocations: p.allocations.Load(),
		Borrows:     p.borrows.Load(),
		Recycles:    p.recycles.Load(),
	}
}
