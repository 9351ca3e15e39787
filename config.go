// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"net"
	"time"

	"github.com/bassosimone/runtimex"
)

// DefaultMaxInFlightBytes is the default budget of bytes that may sit in
// filled buffers waiting for the drain task before the source is asked to
// suspend input. With [DefaultBufferSize] this allows eight buffers.
const DefaultMaxInFlightBytes = 65 * 1024

// Config holds common configuration for bridge operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// BufferPool provides the buffers filled by [*ResponseConsumer].
	//
	// Set by [NewConfig] to a [*SyncBufferPool] using [DefaultBufferSize].
	BufferPool BufferPool

	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// Executor runs the drain task of each [*ResponseConsumer].
	//
	// Set by [NewConfig] to [DefaultExecutor].
	Executor Executor

	// MaxInFlightBytes is the back-pressure budget. Dividing it by the
	// buffer size gives the queue depth at which the source is suspended.
	//
	// Set by [NewConfig] to [DefaultMaxInFlightBytes].
	MaxInFlightBytes int

	// Metrics receives bridge counters.
	//
	// Set by [NewConfig] to [DefaultBridgeMetrics].
	Metrics BridgeMetrics

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		BufferPool:       NewBufferPool(DefaultBufferSize),
		Dialer:           &net.Dialer{},
		ErrClassifier:    DefaultErrClassifier,
		Executor:         DefaultExecutor(),
		MaxInFlightBytes: DefaultMaxInFlightBytes,
		Metrics:          DefaultBridgeMetrics(),
		TimeNow:          time.Now,
	}
}

// QueueCeiling returns the queue depth at which the source is suspended:
// MaxInFlightBytes divided by the buffer size, and never less than one.
//
// It panics if the buffer size is not positive.
func (c *Config) QueueCeiling() int {
	size := c.BufferPool.BufferSize()
	runtimex.Assert(size > 0)
	return max(1, c.MaxInFlightBytes/size)
}
