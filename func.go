// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import "context"

// Func is a step that turns an input into a result, such as dialing an
// address into a [net.Conn] or wrapping a [TLSConn] into an [*HTTPConn].
//
// Steps chain using [Compose2] and [Compose3].
//
// A step receiving a closeable input closes it before returning an error,
// so a failing pipeline never leaks the connection it was building.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter turns a closure into a [Func].
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
