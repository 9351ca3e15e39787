// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// Here a span is the lifetime of one streamed response body: the round
// trip, the read pump feeding the bridge, and the drain task writing to
// the downstream reader. Attach it using [*slog.Logger.With] so that the
// events emitted by all of them share the same spanID.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
