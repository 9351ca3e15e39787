// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"context"
	"errors"
	"io"
	"net/http"

	"golang.org/x/net/http/httpguts"
)

// OutgoingContent describes how a body is produced for a sending engine.
//
// The set of variants is closed: [*NoContent], [*ReadableContent],
// [*WritableContent], [*MaterializedContent], and [*ProtocolUpgrade]. An
// engine dispatches with a type switch over them (see [WriteContent]) and
// calls the single body method of the selected variant exactly once.
type OutgoingContent interface {
	// Status returns the status code to send or zero to let the engine decide.
	Status() int

	// Header returns the headers to send, which may be nil.
	Header() http.Header

	isOutgoingContent()
}

// NoContent is an [OutgoingContent] without a body.
type NoContent struct {
	// StatusCode is the optional status code.
	StatusCode int

	// Headers contains the optional headers.
	Headers http.Header
}

var _ OutgoingContent = &NoContent{}

// Status implements [OutgoingContent].
func (c *NoContent) Status() int { return c.StatusCode }

// Header implements [OutgoingContent].
func (c *NoContent) Header() http.Header { return c.Headers }

func (*NoContent) isOutgoingContent() {}

// Range selects Length bytes starting at offset Start.
type Range struct {
	Start  int64
	Length int64
}

// Empty returns whether the range selects no bytes.
func (r Range) Empty() bool {
	return r.Length <= 0
}

// ReadableContent is an [OutgoingContent] whose body the engine pulls
// from a stream.
type ReadableContent struct {
	// StatusCode is the optional status code.
	StatusCode int

	// Headers contains the optional headers.
	Headers http.Header

	// OpenFunc opens the whole body. It is mandatory.
	OpenFunc func() (io.ReadCloser, error)

	// OpenRangeFunc optionally opens a range of the body. It must return
	// the same bytes as the default implementation of [ReadableContent.OpenRange].
	OpenRangeFunc func(r Range) (io.ReadCloser, error)
}

var _ OutgoingContent = &ReadableContent{}

// Status implements [OutgoingContent].
func (c *ReadableContent) Status() int { return c.StatusCode }

// Header implements [OutgoingContent].
func (c *ReadableContent) Header() http.Header { return c.Headers }

func (*ReadableContent) isOutgoingContent() {}

// Open returns the whole body.
func (c *ReadableContent) Open() (io.ReadCloser, error) {
	return c.OpenFunc()
}

// OpenRange returns the bytes selected by r.
//
// Unless OpenRangeFunc is set, the returned stream opens the whole body on
// the first Read, discards r.Start bytes, and then yields at most
// r.Length bytes. An empty range never opens the body.
func (c *ReadableContent) OpenRange(r Range) (io.ReadCloser, error) {
	if c.OpenRangeFunc != nil {
		return c.OpenRangeFunc(r)
	}
	return &rangeReader{open: c.OpenFunc, rng: r}, nil
}

// rangeReader lazily opens a stream and yields one of its ranges.
//
// The stream is opened at most once. When opening or skipping fails the
// error sticks and is returned by every later Read.
type rangeReader struct {
	body    io.ReadCloser
	err     error
	limited io.Reader
	open    func() (io.ReadCloser, error)
	rng     Range
}

// Read implements [io.Reader].
func (r *rangeReader) Read(buf []byte) (int, error) {
	if r.rng.Empty() {
		return 0, io.EOF
	}
	if r.err != nil {
		return 0, r.err
	}
	if r.limited == nil {
		if err := r.seek(); err != nil {
			r.err = err
			return 0, err
		}
	}
	return r.limited.Read(buf)
}

// seek opens the body and discards the bytes before the range.
func (r *rangeReader) seek() error {
	body, err := r.open()
	if err != nil {
		return err
	}
	if _, err := io.CopyN(io.Discard, body, r.rng.Start); err != nil {
		body.Close()
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	r.body = body
	r.limited = io.LimitReader(body, r.rng.Length)
	return nil
}

// Close implements [io.Closer].
func (r *rangeReader) Close() error {
	if r.body == nil {
		return nil
	}
	return r.body.Close()
}

// WritableContent is an [OutgoingContent] that pushes its body into a
// writer owned by the engine, which closes it after WriteBody returns.
type WritableContent struct {
	// StatusCode is the optional status code.
	StatusCode int

	// Headers contains the optional headers.
	Headers http.Header

	// WriteFunc writes the whole body. It is mandatory.
	WriteFunc func(ctx context.Context, w io.Writer) error
}

var _ OutgoingContent = &WritableContent{}

// Status implements [OutgoingContent].
func (c *WritableContent) Status() int { return c.StatusCode }

// Header implements [OutgoingContent].
func (c *WritableContent) Header() http.Header { return c.Headers }

func (*WritableContent) isOutgoingContent() {}

// WriteBody writes the whole body to w.
func (c *WritableContent) WriteBody(ctx context.Context, w io.Writer) error {
	return c.WriteFunc(ctx, w)
}

// MaterializedContent is an [OutgoingContent] whose body is already in memory.
type MaterializedContent struct {
	// StatusCode is the optional status code.
	StatusCode int

	// Headers contains the optional headers.
	Headers http.Header

	// Data is the body.
	Data []byte
}

var _ OutgoingContent = &MaterializedContent{}

// Status implements [OutgoingContent].
func (c *MaterializedContent) Status() int { return c.StatusCode }

// Header implements [OutgoingContent].
func (c *MaterializedContent) Header() http.Header { return c.Headers }

func (*MaterializedContent) isOutgoingContent() {}

// Bytes returns the body.
func (c *MaterializedContent) Bytes() []byte {
	return c.Data
}

// UpgradeFunc takes ownership of the raw connection streams after a
// protocol switch. Non-blocking work goes to engine and potentially
// blocking user code goes to user. The returned [Job] completes when the
// upgraded connection is done.
type UpgradeFunc func(ctx context.Context,
	input io.Reader, output io.WriteCloser, engine, user Executor) (Job, error)

// ProtocolUpgrade is an [OutgoingContent] switching the connection to
// another protocol. Its status is always [http.StatusSwitchingProtocols].
type ProtocolUpgrade struct {
	// Headers contains the headers, which should include Upgrade and
	// Connection (see [IsProtocolSwitch]).
	Headers http.Header

	// Fn handles the upgraded connection. It is mandatory.
	Fn UpgradeFunc
}

var _ OutgoingContent = &ProtocolUpgrade{}

// Status implements [OutgoingContent].
func (c *ProtocolUpgrade) Status() int { return http.StatusSwitchingProtocols }

// Header implements [OutgoingContent].
func (c *ProtocolUpgrade) Header() http.Header { return c.Headers }

func (*ProtocolUpgrade) isOutgoingContent() {}

// Upgrade hands the raw connection streams to the application.
func (c *ProtocolUpgrade) Upgrade(ctx context.Context,
	input io.Reader, output io.WriteCloser, engine, user Executor) (Job, error) {
	return c.Fn(ctx, input, output, engine, user)
}

// IsProtocolSwitch reports whether the status code and headers
// describe a protocol switch: status 101, a non-empty Upgrade header,
// and an "upgrade" token in Connection.
func IsProtocolSwitch(code int, header http.Header) bool {
	return code == http.StatusSwitchingProtocols &&
		header.Get("Upgrade") != "" &&
		httpguts.HeaderValuesContainsToken(header["Connection"], "Upgrade")
}
