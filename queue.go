// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed indicates that a buffer was handed off after the
// transfer queue had been closed.
var ErrQueueClosed = errors.New("bridge: transfer queue closed")

// transferEntry pairs a filled buffer with the flow control token of the
// notification that filled it. The ctrl field is nil for the final flush.
type transferEntry struct {
	buf  *Buffer
	ctrl IOControl
}

// transferQueue is the unbounded FIFO handoff between the producer
// callbacks and the single drain task.
//
// Depth accounting for back-pressure is not done here: the queue only
// moves entries in order and propagates the close cause.
type transferQueue struct {
	// cond is signalled when an entry is added or the queue is closed.
	cond *sync.Cond

	// closed is true after the first close.
	closed bool

	// entries contains the pending entries in FIFO order.
	entries []transferEntry

	// cause is the error passed to the first close.
	cause error

	// mu protects all the fields above.
	mu sync.Mutex
}

func newTransferQueue() *transferQueue {
	q := &transferQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue appends an entry or fails with [ErrQueueClosed], wrapping the
// close cause when there is one.
func (q *transferQueue) enqueue(entry transferEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return q.closedErrorLocked()
	}
	q.entries = append(q.entries, entry)
	q.cond.Signal()
	return nil
}

// dequeue blocks until an entry is available and returns it. The boolean
// is false once the queue is closed and all the entries enqueued before
// closing have been returned.
func (q *transferQueue) dequeue() (transferEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.entries) <= 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.entries) <= 0 {
		return transferEntry{}, false
	}
	entry := q.entries[0]
	q.entries[0] = transferEntry{}
	q.entries = q.entries[1:]
	return entry, true
}

// close marks the queue as closed. Only the first call has effect.
func (q *transferQueue) close(cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cause = cause
	q.cond.Broadcast()
}

// err returns the error passed to the first close.
func (q *transferQueue) err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cause
}

// closedError returns the error that enqueue returns after close.
func (q *transferQueue) closedError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closedErrorLocked()
}

func (q *transferQueue) closedErrorLocked() error {
	if q.cause != nil {
		return fmt.Errorf("%w: %w", ErrQueueClosed, q.cause)
	}
	return ErrQueueClosed
}
