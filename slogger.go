//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package bridge

// SLogger is the structured logger receiving the bridge events.
//
// The bridge uses two log levels:
//   - Info for lifecycle events (HTTP round trip, body stream, drain
//     task, release, read pump)
//   - Debug for per-chunk events (enqueue, write, suspend and request input)
//
// The [*slog.Logger] type satisfies this interface.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// DefaultSLogger returns an [SLogger] discarding every event.
//
// Pass a [*slog.Logger] to observe the bridge.
func DefaultSLogger() SLogger {
	return discardSLogger{}
}

// discardSLogger drops all the events.
type discardSLogger struct{}

var _ SLogger = discardSLogger{}

// Debug implements [SLogger].
func (discardSLogger) Debug(msg string, args ...any) {
	// nothing
}

// Info implements [SLogger].
func (discardSLogger) Info(msg string, args ...any) {
	// nothing
}
