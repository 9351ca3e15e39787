// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// funcRoundTripper implements http.RoundTripper using a function.
type funcRoundTripper func(*http.Request) (*http.Response, error)

func (f funcRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// newTestHTTPConn returns an [*HTTPConn] using txp and the bridge
// settings of cfg.
func newTestHTTPConn(cfg *Config, conn net.Conn, txp http.RoundTripper, logger SLogger) *HTTPConn {
	return &HTTPConn{
		conn:             conn,
		txp:              txp,
		closeIdleFunc:    func() {},
		BufferPool:       cfg.BufferPool,
		ErrClassifier:    cfg.ErrClassifier,
		Executor:         cfg.Executor,
		Logger:           logger,
		MaxInFlightBytes: cfg.MaxInFlightBytes,
		Metrics:          cfg.Metrics,
		TimeNow:          time.Now,
	}
}

// respondWith returns a transport answering with the given body.
func respondWith(body io.ReadCloser) http.RoundTripper {
	return funcRoundTripper(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": []string{"text/html"}},
			Body:       body,
		}, nil
	})
}

// RoundTrip delegates to the underlying transport and streams the body.
func TestHTTPConnRoundTripSuccess(t *testing.T) {
	cfg, pool := newTestConfig(4, 8)
	httpConn := newTestHTTPConn(cfg, newMinimalConn(),
		respondWith(io.NopCloser(strings.NewReader("OK, streamed"))), DefaultSLogger())

	req, err := http.NewRequest("GET", "https://example.com/", nil)
	require.NoError(t, err)

	resp, err := httpConn.RoundTrip(req)

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "OK, streamed", string(data))
	assert.Equal(t, int64(0), pool.Stats().Outstanding())
}

// A large body read slowly arrives intact and under back-pressure.
func TestHTTPConnRoundTripBackPressure(t *testing.T) {
	cfg, pool := newTestConfig(64, 256)
	metrics := &countingMetrics{}
	cfg.Metrics = metrics

	payload := make([]byte, 64*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	httpConn := newTestHTTPConn(cfg, newMinimalConn(),
		respondWith(io.NopCloser(bytes.NewReader(payload))), DefaultSLogger())

	req, err := http.NewRequest("GET", "https://example.com/", nil)
	require.NoError(t, err)
	resp, err := httpConn.RoundTrip(req)
	require.NoError(t, err)

	data, err := io.ReadAll(iotest.HalfReader(resp.Body))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, payload, data)
	assert.Equal(t, int64(len(payload)), metrics.bytesWritten.Load())
	assert.Equal(t, int64(0), metrics.queueDepth.Load())
	assert.Equal(t, int64(0), pool.Stats().Outstanding())
}

// Closing the body early stops the pump and returns every buffer.
func TestHTTPConnRoundTripEarlyClose(t *testing.T) {
	cfg, pool := newTestConfig(16, 64)
	source := &endlessBody{}
	httpConn := newTestHTTPConn(cfg, newMinimalConn(), respondWith(source), DefaultSLogger())

	req, err := http.NewRequest("GET", "https://example.com/", nil)
	require.NoError(t, err)
	resp, err := httpConn.RoundTrip(req)
	require.NoError(t, err)

	buf := make([]byte, 10)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, "xxxxxxxxxx", string(buf))

	closed := make(chan error, 1)
	go func() { closed <- resp.Body.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.True(t, source.closed.Load())
	assert.Equal(t, int64(0), pool.Stats().Outstanding())
}

// A failing transport body reaches the reader.
func TestHTTPConnRoundTripBodyError(t *testing.T) {
	cfg, pool := newTestConfig(4, 8)
	wantErr := errors.New("connection reset")
	body := io.NopCloser(io.MultiReader(strings.NewReader("partial"), errReader{wantErr}))
	httpConn := newTestHTTPConn(cfg, newMinimalConn(), respondWith(body), DefaultSLogger())

	req, err := http.NewRequest("GET", "https://example.com/", nil)
	require.NoError(t, err)
	resp, err := httpConn.RoundTrip(req)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, "partial", string(data))
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, int64(0), pool.Stats().Outstanding())
}

// countingExecutor counts the tasks it schedules on an errgroup.
type countingExecutor struct {
	group errgroup.Group
	tasks atomic.Int64
}

func (e *countingExecutor) Go(fn func() error) {
	e.tasks.Add(1)
	e.group.Go(fn)
}

// The pump and the drain task both run on the Executor, which sees their errors.
func TestHTTPConnRoundTripSchedulesPump(t *testing.T) {
	cfg, pool := newTestConfig(4, 8)
	executor := &countingExecutor{}
	cfg.Executor = executor
	wantErr := errors.New("connection reset")
	body := io.NopCloser(io.MultiReader(strings.NewReader("partial"), errReader{wantErr}))
	httpConn := newTestHTTPConn(cfg, newMinimalConn(), respondWith(body), DefaultSLogger())

	req, err := http.NewRequest("GET", "https://example.com/", nil)
	require.NoError(t, err)
	resp, err := httpConn.RoundTrip(req)
	require.NoError(t, err)

	_, err = io.ReadAll(resp.Body)
	require.ErrorIs(t, err, wantErr)
	require.NoError(t, resp.Body.Close())

	require.ErrorIs(t, executor.group.Wait(), wantErr)
	assert.Equal(t, int64(2), executor.tasks.Load())
	assert.Equal(t, int64(0), pool.Stats().Outstanding())
}

// RoundTrip propagates errors from the underlying transport.
func TestHTTPConnRoundTripError(t *testing.T) {
	wantErr := errors.New("round trip failed")

	httpConn := newTestHTTPConn(NewConfig(), newMinimalConn(),
		funcRoundTripper(func(req *http.Request) (*http.Response, error) {
			return nil, wantErr
		}), DefaultSLogger())

	req, err := http.NewRequest("GET", "https://example.com/", nil)
	require.NoError(t, err)

	resp, err := httpConn.RoundTrip(req)

	require.ErrorIs(t, err, wantErr)
	assert.Nil(t, resp)
}

// RoundTrip propagates the caller's context deadline to the transport.
func TestHTTPConnRoundTripCallerTimeout(t *testing.T) {
	// Caller-provided timeout
	callerTimeout := 5 * time.Second

	httpConn := newTestHTTPConn(NewConfig(), newMinimalConn(),
		funcRoundTripper(func(req *http.Request) (*http.Response, error) {
			// Verify context has the caller-provided deadline
			deadline, ok := req.Context().Deadline()
			assert.True(t, ok, "context should have deadline from caller")
			assert.True(t, time.Until(deadline) <= callerTimeout)
			return &http.Response{
				StatusCode: 200,
				Body:       io.NopCloser(strings.NewReader("")),
			}, nil
		}), DefaultSLogger())

	req, err := http.NewRequest("GET", "https://example.com/", nil)
	require.NoError(t, err)

	// Caller provides timeout via context
	ctx, cancel := context.WithTimeout(context.Background(), callerTimeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := httpConn.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
}

// RoundTrip emits the round trip events followed by the body events.
func TestHTTPConnRoundTripLogging(t *testing.T) {
	logger, records := newCapturingLogger()

	httpConn := newTestHTTPConn(NewConfig(), newMinimalConn(),
		respondWith(io.NopCloser(strings.NewReader("body"))), logger)

	req, err := http.NewRequest("GET", "https://example.com/", nil)
	require.NoError(t, err)

	resp, err := httpConn.RoundTrip(req)
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	messages := recordMessages(*records)
	require.GreaterOrEqual(t, len(messages), 2)
	assert.Equal(t, "httpRoundTripStart", messages[0])
	assert.Equal(t, "httpRoundTripDone", messages[1])
	for _, want := range []string{
		"bridgeDrainStart",
		"bridgeDrainDone",
		"readPumpStart",
		"readPumpDone",
		"httpBodyStreamStart",
		"httpBodyStreamDone",
	} {
		assert.Contains(t, messages, want)
	}

	record, found := findRecord(*records, "httpBodyStreamDone")
	require.True(t, found)
	assert.Equal(t, int64(4), recordAttr(record, "ioBytesCount").Int64())
}

// Closing the body without reading it does not emit body stream events.
func TestHTTPConnRoundTripNoReadNoBodyEvents(t *testing.T) {
	logger, records := newCapturingLogger()

	httpConn := newTestHTTPConn(NewConfig(), newMinimalConn(),
		respondWith(io.NopCloser(strings.NewReader("body"))), logger)

	req, err := http.NewRequest("GET", "https://example.com/", nil)
	require.NoError(t, err)
	resp, err := httpConn.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	messages := recordMessages(*records)
	assert.NotContains(t, messages, "httpBodyStreamStart")
	assert.NotContains(t, messages, "httpBodyStreamDone")
}

// RoundTrip logs localAddr, remoteAddr, and protocol in the done event.
func TestHTTPConnRoundTripLogsConnectionMetadata(t *testing.T) {
	wantLocalAddr := "127.0.0.1:54321"
	wantRemoteAddr := "93.184.216.34:443"
	wantProtocol := "tcp"

	logger, records := newCapturingLogger()

	mockConn := newMinimalConn()
	mockConn.LocalAddrFunc = func() net.Addr {
		return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 54321}
	}
	mockConn.RemoteAddrFunc = func() net.Addr {
		return &net.TCPAddr{IP: net.IPv4(93, 184, 216, 34), Port: 443}
	}

	httpConn := newTestHTTPConn(NewConfig(), mockConn,
		respondWith(io.NopCloser(strings.NewReader(""))), logger)

	req, err := http.NewRequest("GET", "https://example.com/", nil)
	require.NoError(t, err)

	resp, err := httpConn.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	// Check the httpRoundTripDone record for connection metadata attributes
	doneRecord, found := findRecord(*records, "httpRoundTripDone")
	require.True(t, found)

	// Extract attributes from the log record
	var gotLocalAddr, gotRemoteAddr, gotProtocol string
	doneRecord.Attrs(func(attr slog.Attr) bool {
		switch attr.Key {
		case "localAddr":
			gotLocalAddr = attr.Value.String()
		case "remoteAddr":
			gotRemoteAddr = attr.Value.String()
		case "protocol":
			gotProtocol = attr.Value.String()
		}
		return true
	})

	assert.Equal(t, wantLocalAddr, gotLocalAddr)
	assert.Equal(t, wantRemoteAddr, gotRemoteAddr)
	assert.Equal(t, wantProtocol, gotProtocol)
}
