// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/runtimex"
)

// IOControl is the flow control token of a push-style source.
//
// The bridge calls SuspendInput when too many filled buffers are waiting
// for the drain task, and RequestInput once for every buffer handed off
// to the drain task, so the source may resume slightly before the queue
// depth drops below the ceiling.
type IOControl interface {
	SuspendInput()
	RequestInput()
}

// Sink is the downstream byte-write target of the drain task.
//
// Write must apply writes in call order and must surface back-pressure by
// blocking rather than by failing. CloseWithError(nil) closes cleanly.
// The [*io.PipeWriter] type satisfies this interface.
type Sink interface {
	io.Writer
	CloseWithError(err error) error
}

// OwnerFunc receives the response metadata along with a handle whose
// Close releases the bridge. It runs before the body is fully drained.
type OwnerFunc func(resp *http.Response, handle io.Closer)

// ContentConsumer is the contract between a push-style I/O driver and the
// bridge. [*ResponseConsumer] implements it and [*ReadPump] drives it.
type ContentConsumer interface {
	// OnResponseReceived notifies that the response metadata is available.
	OnResponseReceived(resp *http.Response)

	// OnContentReceived notifies that body bytes can be read from decoder.
	// The decoder must not block. A non-nil return is fatal for the
	// connection and the consumer has already been released.
	OnContentReceived(decoder io.Reader, ctrl IOControl) error

	// OnEntityEnclosed notifies that a request body is being sent.
	OnEntityEnclosed(body io.Reader, contentType string)

	// ReleaseResources notifies that the source delivered all the content.
	ReleaseResources()

	// Release terminates the stream, optionally with an error.
	Release(err error)
}

// ResponseConsumer adapts push-style content notifications into an ordered
// stream of writes to a [Sink], applying back-pressure to the source when
// the sink falls behind.
//
// Incoming bytes accumulate in a pooled buffer. Full buffers travel with
// their [IOControl] token through an unbounded FIFO to a single drain task,
// which writes them to the sink, acknowledges the token, and recycles the
// buffer. A separate depth counter suspends the source when it reaches
// [Config.QueueCeiling].
//
// Construct using [NewResponseConsumer].
type ResponseConsumer struct {
	// ceiling is the depth at which we suspend the source.
	ceiling int

	// current is the buffer being filled, or nil once released.
	current *Buffer

	// depth is the number of entries in flight.
	depth int

	// depthMu protects depth and serializes SuspendInput and RequestInput.
	depthMu sync.Mutex

	// done is closed when the drain task exits.
	done chan struct{}

	// errClassifier classifies errors for structured logging.
	errClassifier ErrClassifier

	// fillMu protects current.
	fillMu sync.Mutex

	// logger is the [SLogger] in use.
	logger SLogger

	// metrics receives the bridge counters.
	metrics BridgeMetrics

	// owner receives the response metadata.
	owner OwnerFunc

	// pool provides the buffers.
	pool BufferPool

	// queue is the handoff to the drain task.
	queue *transferQueue

	// released guards the single release transition.
	released atomic.Bool

	// sink is the downstream target.
	sink Sink

	// sinkErr is the error the sink was closed with; written by the
	// drain task before closing done.
	sinkErr error

	// timeNow mocks [time.Now].
	timeNow func() time.Time
}

var _ ContentConsumer = &ResponseConsumer{}

// NewResponseConsumer returns a new [*ResponseConsumer] writing to sink
// and schedules its drain task using [Config.Executor].
//
// The owner argument may be nil, in which case response metadata is ignored.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewResponseConsumer(cfg *Config, sink Sink, owner OwnerFunc, logger SLogger) *ResponseConsumer {
	runtimex.Assert(cfg != nil)
	runtimex.Assert(sink != nil)
	c := &ResponseConsumer{
		ceiling:       cfg.QueueCeiling(),
		done:          make(chan struct{}),
		errClassifier: cfg.ErrClassifier,
		logger:        logger,
		metrics:       cfg.Metrics,
		owner:         owner,
		pool:          cfg.BufferPool,
		queue:         newTransferQueue(),
		sink:          sink,
		timeNow:       cfg.TimeNow,
	}
	c.current = c.pool.Borrow()
	cfg.Executor.Go(c.drain)
	return c
}

// OnResponseReceived implements [ContentConsumer].
//
// It invokes the owner with resp and a handle whose Close calls Release(nil).
func (c *ResponseConsumer) OnResponseReceived(resp *http.Response) {
	if c.owner != nil {
		c.owner(resp, &consumerHandle{c})
	}
}

// OnEntityEnclosed implements [ContentConsumer].
//
// Request bodies flow in the opposite direction, so this is a no-op.
func (c *ResponseConsumer) OnEntityEnclosed(body io.Reader, contentType string) {
	// nothing
}

// OnContentReceived implements [ContentConsumer].
//
// It performs a single read from decoder into the current buffer. An
// [io.EOF] from the decoder is not an error: the driver signals the end
// of the content using ReleaseResources. Any other read error releases
// the consumer with that error and is returned.
//
// When the buffer becomes full it is handed off to the drain task along
// with ctrl, which receives SuspendInput if the queue depth reaches the
// ceiling. If the handoff fails because the queue has been closed, the
// buffer is recycled, the consumer is released, and the returned error
// wraps [ErrQueueClosed] and the cause of the closure.
func (c *ResponseConsumer) OnContentReceived(decoder io.Reader, ctrl IOControl) error {
	runtimex.Assert(ctrl != nil)

	c.fillMu.Lock()
	if c.current == nil {
		c.fillMu.Unlock()
		return c.queue.closedError()
	}

	count, err := c.current.ReadOnce(decoder)
	c.metrics.AddBytesReceived(count)
	if err != nil && !errors.Is(err, io.EOF) {
		c.fillMu.Unlock()
		c.Release(err)
		return err
	}
	if !c.current.Full() {
		c.fillMu.Unlock()
		return nil
	}

	buf := c.current
	c.current = nil
	size := buf.Len()
	if err := c.queue.enqueue(transferEntry{buf: buf, ctrl: ctrl}); err != nil {
		c.pool.Recycle(buf)
		c.fillMu.Unlock()
		c.logEnqueue(size, err)
		c.Release(err)
		return err
	}
	c.current = c.pool.Borrow()
	c.fillMu.Unlock()
	c.logEnqueue(size, nil)

	c.depthMu.Lock()
	c.depth++
	c.metrics.AddQueueDepth(1)
	depth, suspended := c.depth, c.depth == c.ceiling
	if suspended {
		ctrl.SuspendInput()
		c.metrics.IncSuspendInput()
	}
	c.depthMu.Unlock()

	if suspended {
		c.logger.Debug(
			"bridgeSuspendInput",
			slog.Int("queueDepth", depth),
			slog.Time("t", c.timeNow()),
		)
	}
	return nil
}

// ReleaseResources implements [ContentConsumer] by calling Release(nil).
func (c *ResponseConsumer) ReleaseResources() {
	c.Release(nil)
}

// Release implements [ContentConsumer].
//
// Only the first call has effect, regardless of which goroutine makes
// it; all later calls return immediately. The first call flushes the
// partially filled buffer (if any) as the last entry, then closes the
// queue with err so that the drain task closes the sink with err. The
// queue is closed even if flushing fails.
//
// Release waits for an OnContentReceived in progress on another
// goroutine, so decoders must not block.
func (c *ResponseConsumer) Release(err error) {
	if !c.released.CompareAndSwap(false, true) {
		return
	}

	t0 := c.timeNow()
	c.logger.Info(
		"bridgeReleaseStart",
		slog.Any("releaseErr", err),
		slog.Time("t", t0),
	)

	var flushed int
	defer func() {
		c.queue.close(err)
		c.logger.Info(
			"bridgeReleaseDone",
			slog.Int("ioBytesCount", flushed),
			slog.Any("releaseErr", err),
			slog.String("releaseErrClass", c.errClassifier.Classify(err)),
			slog.Time("t0", t0),
			slog.Time("t", c.timeNow()),
		)
	}()

	c.fillMu.Lock()
	buf := c.current
	c.current = nil
	c.fillMu.Unlock()

	if buf == nil {
		return
	}
	if buf.Len() <= 0 {
		c.pool.Recycle(buf)
		return
	}
	size := buf.Len()
	if qerr := c.queue.enqueue(transferEntry{buf: buf}); qerr != nil {
		c.pool.Recycle(buf)
		c.logEnqueue(size, qerr)
		return
	}
	flushed = size
	c.logEnqueue(size, nil)
	c.depthMu.Lock()
	c.depth++
	c.metrics.AddQueueDepth(1)
	c.depthMu.Unlock()
}

// Done returns a channel closed when the drain task has exited.
func (c *ResponseConsumer) Done() <-chan struct{} {
	return c.done
}

// Err returns the error the sink was closed with, which is nil if the
// stream completed cleanly. Only meaningful after Done is closed.
func (c *ResponseConsumer) Err() error {
	select {
	case <-c.done:
		return c.sinkErr
	default:
		return nil
	}
}

func (c *ResponseConsumer) logEnqueue(size int, err error) {
	c.logger.Debug(
		"bridgeEnqueue",
		slog.Any("err", err),
		slog.String("errClass", c.errClassifier.Classify(err)),
		slog.Int("ioBufferSize", size),
		slog.Time("t", c.timeNow()),
	)
}

// consumerHandle is the [io.Closer] given to the owner.
type consumerHandle struct {
	c *ResponseConsumer
}

// Close implements [io.Closer].
func (h *consumerHandle) Close() error {
	h.c.Release(nil)
	return nil
}
