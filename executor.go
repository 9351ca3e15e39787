// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

// Executor schedules background tasks.
//
// The drain task of each [*ResponseConsumer] runs through an Executor, as
// does the [*ReadPump] feeding an [*HTTPConn] response body, and
// [ProtocolUpgrade] receives two of them. A *errgroup.Group from
// golang.org/x/sync satisfies this interface, which makes it possible to
// bound the number of drain tasks and to wait for them.
type Executor interface {
	Go(fn func() error)
}

// Job is a handle to work running in the background.
//
// A *errgroup.Group satisfies this interface.
type Job interface {
	Wait() error
}

// DefaultExecutor returns the [Executor] used by [NewConfig], which runs
// each task in its own goroutine and discards the returned error.
func DefaultExecutor() Executor {
	return goroutineExecutor{}
}

type goroutineExecutor struct{}

var _ Executor = goroutineExecutor{}

// Go implements [Executor].
func (goroutineExecutor) Go(fn func() error) {
	go func() {
		_ = fn()
	}()
}
