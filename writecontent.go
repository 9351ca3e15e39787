// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ErrNotProtocolSwitch indicates a [*ProtocolUpgrade] whose headers lack
// the Upgrade header or the "upgrade" Connection token.
var ErrNotProtocolSwitch = errors.New("bridge: headers do not describe a protocol switch")

// WriteContent sends content using w.
//
// It copies the content headers into w and uses the content status, or
// [http.StatusOK] when the status is zero. The body is produced using the
// method of the selected variant: Open for [*ReadableContent], WriteBody
// for [*WritableContent], and Bytes for [*MaterializedContent].
//
// For a [*ProtocolUpgrade], WriteContent hijacks the connection, writes
// the 101 response, calls Upgrade with the raw streams, and waits for the
// returned [Job]. The engine and user executors are only used for upgrades.
func WriteContent(ctx context.Context, w http.ResponseWriter,
	content OutgoingContent, engine, user Executor) error {
	header := w.Header()
	for key, values := range content.Header() {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	status := content.Status()
	if status == 0 {
		status = http.StatusOK
	}

	switch c := content.(type) {
	case *NoContent:
		w.WriteHeader(status)
		return nil

	case *MaterializedContent:
		data := c.Bytes()
		if header.Get("Content-Length") == "" {
			header.Set("Content-Length", strconv.Itoa(len(data)))
		}
		w.WriteHeader(status)
		_, err := w.Write(data)
		return err

	case *ReadableContent:
		body, err := c.Open()
		if err != nil {
			return err
		}
		defer body.Close()
		w.WriteHeader(status)
		_, err = io.Copy(w, body)
		return err

	case *WritableContent:
		w.WriteHeader(status)
		return c.WriteBody(ctx, w)

	case *ProtocolUpgrade:
		return writeUpgrade(ctx, w, c, engine, user)

	default:
		return fmt.Errorf("bridge: unexpected content type %T", content)
	}
}

func writeUpgrade(ctx context.Context, w http.ResponseWriter,
	content *ProtocolUpgrade, engine, user Executor) error {
	header := w.Header()
	if !IsProtocolSwitch(content.Status(), header) {
		return ErrNotProtocolSwitch
	}

	conn, rw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := io.WriteString(rw, "HTTP/1.1 101 Switching Protocols\r\n"); err != nil {
		return err
	}
	if err := header.Write(rw); err != nil {
		return err
	}
	if _, err := io.WriteString(rw, "\r\n"); err != nil {
		return err
	}
	if err := rw.Flush(); err != nil {
		return err
	}

	job, err := content.Upgrade(ctx, rw.Reader, conn, engine, user)
	if err != nil {
		return err
	}
	return job.Wait()
}
