// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
//
// Records may be appended from several goroutines, so the caller must only
// inspect the slice after the background tasks have exited.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var (
		mu      sync.Mutex
		records []slog.Record
	)
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			mu.Lock()
			records = append(records, record)
			mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), &records
}

// recordMessages returns the messages of the given records.
func recordMessages(records []slog.Record) []string {
	var messages []string
	for _, record := range records {
		messages = append(messages, record.Message)
	}
	return messages
}

// findRecord returns the first record with the given message.
func findRecord(records []slog.Record, message string) (slog.Record, bool) {
	for _, record := range records {
		if record.Message == message {
			return record, true
		}
	}
	return slog.Record{}, false
}

// recordAttr returns the value of the given attribute of record.
func recordAttr(record slog.Record, key string) (value slog.Value) {
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			value = attr.Value
			return false
		}
		return true
	})
	return
}

// newMockTLSEngine returns a [TLSEngine] whose Client returns conn.
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
		ParrotFunc: func() string {
			return ""
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// newTestConfig returns a [*Config] using buffers with the given size and
// the given back-pressure budget.
func newTestConfig(bufferSize, maxInFlightBytes int) (*Config, *SyncBufferPool) {
	pool := NewBufferPool(bufferSize)
	cfg := NewConfig()
	cfg.BufferPool = pool
	cfg.MaxInFlightBytes = maxInFlightBytes
	return cfg, pool
}

// deferredExecutor is an [Executor] that holds tasks until start.
type deferredExecutor struct {
	mu    sync.Mutex
	tasks []func() error
}

var _ Executor = &deferredExecutor{}

// Go implements [Executor].
func (e *deferredExecutor) Go(fn func() error) {
	e.mu.Lock()
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()
}

// start runs each pending task in its own goroutine.
func (e *deferredExecutor) start() {
	e.mu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.mu.Unlock()
	for _, fn := range tasks {
		go fn()
	}
}

// eventLog records flow control events in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.events...)
}

// recordingControl is an [IOControl] that records its calls.
type recordingControl struct {
	id       int
	log      *eventLog
	requests atomic.Int64
	suspends atomic.Int64
}

var _ IOControl = &recordingControl{}

// SuspendInput implements [IOControl].
func (c *recordingControl) SuspendInput() {
	c.suspends.Add(1)
	if c.log != nil {
		c.log.add("suspend %d", c.id)
	}
}

// RequestInput implements [IOControl].
func (c *recordingControl) RequestInput() {
	c.requests.Add(1)
	if c.log != nil {
		c.log.add("request %d", c.id)
	}
}

// recordingSink is a [Sink] that records writes and closure.
type recordingSink struct {
	// WriteFunc optionally overrides Write.
	WriteFunc func(data []byte) (int, error)

	closeErr error
	closed   chan struct{}
	closes   int
	data     bytes.Buffer
	log      *eventLog
	mu       sync.Mutex
	writes   []string
}

var _ Sink = &recordingSink{}

func newRecordingSink() *recordingSink {
	return &recordingSink{closed: make(chan struct{})}
}

// Write implements [Sink].
func (s *recordingSink) Write(data []byte) (int, error) {
	if s.WriteFunc != nil {
		return s.WriteFunc(data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, string(data))
	if s.log != nil {
		s.log.add("write %s", data)
	}
	return s.data.Write(data)
}

// CloseWithError implements [Sink].
func (s *recordingSink) CloseWithError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes == 1 {
		s.closeErr = err
		close(s.closed)
	}
	return nil
}

func (s *recordingSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.String()
}

func (s *recordingSink) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.writes...)
}

func (s *recordingSink) CloseErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// countingMetrics is a [BridgeMetrics] using atomic counters.
type countingMetrics struct {
	bytesReceived atomic.Int64
	bytesWritten  atomic.Int64
	queueDepth    atomic.Int64
	requestInput  atomic.Int64
	suspendInput  atomic.Int64
}

var _ BridgeMetrics = &countingMetrics{}

func (m *countingMetrics) AddBytesReceived(count int) { m.bytesReceived.Add(int64(count)) }
func (m *countingMetrics) AddBytesWritten(count int)  { m.bytesWritten.Add(int64(count)) }
func (m *countingMetrics) AddQueueDepth(delta int)    { m.queueDepth.Add(int64(delta)) }
func (m *countingMetrics) IncRequestInput()           { m.requestInput.Add(1) }
func (m *countingMetrics) IncSuspendInput()           { m.suspendInput.Add(1) }

// errReader is an [io.Reader] that always fails.
type errReader struct {
	err error
}

func (r errReader) Read([]byte) (int, error) {
	return 0, r.err
}

// endlessBody is an [io.ReadCloser] producing data until closed.
type endlessBody struct {
	closed atomic.Bool
}

var _ io.ReadCloser = &endlessBody{}

func (b *endlessBody) Read(data []byte) (int, error) {
	if b.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	for idx := range data {
		data[idx] = 'x'
	}
	return len(data), nil
}

func (b *endlessBody) Close() error {
	b.closed.Store(true)
	return nil
}
