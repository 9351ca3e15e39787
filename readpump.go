// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// NewReadPump returns a new [*ReadPump] that reads from source and feeds
// consumer.
//
// The cfg argument contains the common configuration for bridge operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewReadPump(cfg *Config, source io.Reader, consumer ContentConsumer, logger SLogger) *ReadPump {
	return &ReadPump{
		consumer:      consumer,
		gate:          newInputGate(),
		source:        source,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ReadPump is an I/O driver turning a pull-style [io.Reader] into content
// notifications for a [ContentConsumer], honoring [IOControl] requests.
//
// Run it in its own goroutine, which plays the role of the driver's event
// thread: each loop iteration waits while input is suspended and then
// performs one OnContentReceived. Reads from the source may block, so
// close the source to interrupt a pump waiting for data.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Run].
type ReadPump struct {
	// consumer receives the notifications.
	consumer ContentConsumer

	// gate implements [IOControl] for consumer.
	gate *inputGate

	// source is where we read from.
	source io.Reader

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewReadPump] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewReadPump] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewReadPump] from [Config.TimeNow].
	TimeNow func() time.Time
}

// Run pumps the source into the consumer until the source is exhausted,
// the consumer fails, or ctx is done.
//
// On [io.EOF] it calls ReleaseResources and returns nil. When the
// consumer returns an error (e.g., a source read error), Run returns it.
// When ctx is done, Run releases the consumer with the context error and
// returns it.
func (p *ReadPump) Run(ctx context.Context) (err error) {
	t0 := p.TimeNow()
	p.Logger.Info("readPumpStart", slog.Time("t", t0))

	decoder := &pumpDecoder{source: p.source}
	defer func() {
		p.Logger.Info(
			"readPumpDone",
			slog.Any("err", err),
			slog.String("errClass", p.ErrClassifier.Classify(err)),
			slog.Int64("ioBytesCount", decoder.count),
			slog.Time("t0", t0),
			slog.Time("t", p.TimeNow()),
		)
	}()

	for {
		if err := p.gate.wait(ctx); err != nil {
			p.consumer.Release(err)
			return err
		}
		if err := p.consumer.OnContentReceived(decoder, p.gate); err != nil {
			return err
		}
		if decoder.eof {
			p.consumer.ReleaseResources()
			return nil
		}
	}
}

// pumpDecoder counts bytes and remembers whether the source hit EOF.
type pumpDecoder struct {
	count  int64
	eof    bool
	source io.Reader
}

// Read implements [io.Reader].
func (d *pumpDecoder) Read(buf []byte) (int, error) {
	count, err := d.source.Read(buf)
	d.count += int64(count)
	if errors.Is(err, io.EOF) {
		d.eof = true
	}
	return count, err
}

// inputGate implements [IOControl] for [*ReadPump].
type inputGate struct {
	// mu protects suspended.
	mu sync.Mutex

	// suspended is true between SuspendInput and RequestInput.
	suspended bool

	// wakeup wakes up a waiting pump after RequestInput.
	wakeup chan struct{}
}

var _ IOControl = &inputGate{}

func newInputGate() *inputGate {
	return &inputGate{wakeup: make(chan struct{}, 1)}
}

// SuspendInput implements [IOControl].
func (g *inputGate) SuspendInput() {
	g.mu.Lock()
	g.suspended = true
	g.mu.Unlock()
}

// RequestInput implements [IOControl].
func (g *inputGate) RequestInput() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.suspended {
		return
	}
	g.suspended = false
	select {
	case g.wakeup <- struct{}{}:
	default:
	}
}

// wait blocks while input is suspended and returns the context error
// if ctx is done first.
func (g *inputGate) wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.mu.Lock()
		suspended := g.suspended
		g.mu.Unlock()
		if !suspended {
			return nil
		}
		select {
		case <-g.wakeup:
		case <-ctx.Done():
		}
	}
}
