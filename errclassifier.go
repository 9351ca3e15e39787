// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"errors"

	"github.com/bassosimone/errclass"
)

// ErrClassifier classifies errors into categorical strings for analysis.
//
// Implementations map errors to short, descriptive labels (e.g., "ETIMEDOUT",
// "ECONNRESET") that facilitate systematic analysis of streaming failures.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
//
// This allows using simple functions as classifiers:
//
//	cfg.ErrClassifier = ErrClassifierFunc(errclass.New)
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// EQUEUECLOSED is the class of errors wrapping [ErrQueueClosed].
const EQUEUECLOSED = "EQUEUECLOSED"

// DefaultErrClassifier classifies [ErrQueueClosed] as [EQUEUECLOSED] and
// delegates everything else to [errclass.New].
var DefaultErrClassifier = ErrClassifierFunc(func(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrQueueClosed) {
		return EQUEUECLOSED
	}
	return errclass.New(err)
})
