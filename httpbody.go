// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// bridgedBody is the read side of a bridged response body.
type bridgedBody struct {
	// consumer fills the pipe.
	consumer *ResponseConsumer

	// handle releases the consumer.
	handle io.Closer

	// pumpDone is closed when the [*ReadPump] exits.
	pumpDone <-chan struct{}

	// reader is the read side of the pipe.
	reader *io.PipeReader

	// source is the transport body.
	source io.ReadCloser
}

var _ io.ReadCloser = &bridgedBody{}

// Read implements [io.ReadCloser].
func (b *bridgedBody) Read(buffer []byte) (int, error) {
	return b.reader.Read(buffer)
}

// Close implements [io.ReadCloser].
//
// It unblocks the drain task, interrupts the pump by closing the transport
// body, releases the consumer, and waits for both tasks to exit.
func (b *bridgedBody) Close() error {
	b.reader.Close()
	err := b.source.Close()
	b.handle.Close()
	<-b.pumpDone
	<-b.consumer.Done()
	return err
}

// httpBodyWrap wraps an HTTP body so that we emit structured log events
// lazily: httpBodyStreamStart on the first Read, and httpBodyStreamDone
// on Close (only if at least one Read happened).
func httpBodyWrap(
	body io.ReadCloser,
	errClass ErrClassifier,
	laddr string,
	logger SLogger,
	protocol string,
	raddr string,
	timeNow func() time.Time,
) io.ReadCloser {
	return &httpBodyWrapper{
		body:     body,
		errClass: errClass,
		laddr:    laddr,
		logger:   logger,
		protocol: protocol,
		raddr:    raddr,
		timeNow:  timeNow,
	}
}

type httpBodyWrapper struct {
	// body is the actual body.
	body io.ReadCloser

	// count is the number of bytes read so far.
	count atomic.Int64

	// didRead tracks whether at least one Read happened.
	didRead atomic.Bool

	// errClass is the err classifier in use.
	errClass ErrClassifier

	// laddr is the local address.
	laddr string

	// logger is the [SLogger] in use.
	logger SLogger

	// closeOnce ensures that Close has "once" semantics.
	closeOnce sync.Once

	// protocol is the network protocol.
	protocol string

	// raddr is the remote address.
	raddr string

	// readOnce ensures we log httpBodyStreamStart only once.
	readOnce sync.Once

	// t0 is the time when we started reading the body.
	t0 time.Time

	// timeNow mocks [time.Now].
	timeNow func() time.Time
}

var _ io.ReadCloser = &httpBodyWrapper{}

// Close implements [io.ReadCloser].
func (b *httpBodyWrapper) Close() (err error) {
	b.closeOnce.Do(func() {
		err = b.body.Close()
		if b.didRead.Load() { // acquire: t0 is visible if this returns true
			b.logger.Info(
				"httpBodyStreamDone",
				slog.Any("err", err),
				slog.String("errClass", b.errClass.Classify(err)),
				slog.Int64("ioBytesCount", b.count.Load()),
				slog.String("localAddr", b.laddr),
				slog.String("protocol", b.protocol),
				slog.String("remoteAddr", b.raddr),
				slog.Time("t0", b.t0),
				slog.Time("t", b.timeNow()),
			)
		}
	})
	return
}

// Read implements [io.ReadCloser].
func (b *httpBodyWrapper) Read(buffer []byte) (int, error) {
	b.readOnce.Do(func() {
		b.t0 = b.timeNow()    // write t0 BEFORE the atomic store (release)
		b.didRead.Store(true) // release: makes t0 visible to Close
		b.logger.Info(
			"httpBodyStreamStart",
			slog.String("localAddr", b.laddr),
			slog.String("protocol", b.protocol),
			slog.String("remoteAddr", b.raddr),
			slog.Time("t", b.t0),
		)
	})
	count, err := b.body.Read(buffer)
	b.count.Add(int64(count))
	return count, err
}
