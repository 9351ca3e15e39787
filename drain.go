// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"io"
	"log/slog"
)

// drain is the single background task of a [*ResponseConsumer].
//
// It dequeues entries in order, acknowledges their tokens, writes their
// bytes to the sink, and recycles their buffers. After a write failure
// it closes the sink and the queue with the error and only recycles and
// acknowledges what is left. Once the queue is closed and empty, it
// closes the sink with the error the queue was closed with.
func (c *ResponseConsumer) drain() error {
	t0 := c.timeNow()
	c.logger.Info("bridgeDrainStart", slog.Time("t", t0))

	var (
		written  int64
		writeErr error
	)
	for {
		entry, ok := c.queue.dequeue()
		if !ok {
			break
		}
		c.acknowledge(entry)

		if writeErr != nil {
			c.pool.Recycle(entry.buf)
			continue
		}

		count, err := c.write(entry.buf)
		written += int64(count)
		c.pool.Recycle(entry.buf)
		if err != nil {
			writeErr = err
			c.sink.CloseWithError(err)
			c.queue.close(err)
		}
	}

	err := writeErr
	if err == nil {
		err = c.queue.err()
		c.sink.CloseWithError(err)
	}
	c.sinkErr = err

	c.logger.Info(
		"bridgeDrainDone",
		slog.Any("err", err),
		slog.String("errClass", c.errClassifier.Classify(err)),
		slog.Int64("ioBytesCount", written),
		slog.Time("t0", t0),
		slog.Time("t", c.timeNow()),
	)
	close(c.done)
	return err
}

// acknowledge accounts for a dequeued entry and resumes its source.
func (c *ResponseConsumer) acknowledge(entry transferEntry) {
	c.depthMu.Lock()
	c.depth--
	c.metrics.AddQueueDepth(-1)
	depth := c.depth
	if entry.ctrl != nil {
		entry.ctrl.RequestInput()
		c.metrics.IncRequestInput()
	}
	c.depthMu.Unlock()

	if entry.ctrl != nil {
		c.logger.Debug(
			"bridgeRequestInput",
			slog.Int("queueDepth", depth),
			slog.Time("t", c.timeNow()),
		)
	}
}

// write writes the whole buffer to the sink.
func (c *ResponseConsumer) write(buf *Buffer) (int, error) {
	data := buf.Bytes()
	t0 := c.timeNow()
	c.logger.Debug(
		"bridgeWriteStart",
		slog.Int("ioBufferSize", len(data)),
		slog.Time("t", t0),
	)

	count, err := c.sink.Write(data)
	if err == nil && count < len(data) {
		err = io.ErrShortWrite
	}
	c.metrics.AddBytesWritten(count)

	c.logger.Debug(
		"bridgeWriteDone",
		slog.Int("ioBytesCount", count),
		slog.Any("err", err),
		slog.String("errClass", c.errClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", c.timeNow()),
	)
	return count, err
}
