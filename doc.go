// SPDX-License-Identifier: GPL-3.0-or-later

// Package bridge streams push-style content into pull-style readers with
// bounded memory and back-pressure.
//
// # Core Abstraction
//
// A push-style I/O driver calls a [ContentConsumer] whenever body bytes are
// ready and receives flow control requests through [IOControl]:
//
//	type ContentConsumer interface {
//		OnResponseReceived(resp *http.Response)
//		OnContentReceived(decoder io.Reader, ctrl IOControl) error
//		OnEntityEnclosed(body io.Reader, contentType string)
//		ReleaseResources()
//		Release(err error)
//	}
//
// [*ResponseConsumer] implements this interface. It fills pooled buffers,
// hands full buffers along with their [IOControl] to a single drain task,
// and suspends the driver when [Config.QueueCeiling] buffers are in flight.
// The drain task writes each buffer to a [Sink] (usually an [*io.PipeWriter]),
// resumes the driver once per buffer, and recycles the buffer. The read
// side of the pipe is a plain [io.Reader] whose slowness propagates back
// to the driver.
//
// # Available Primitives
//
// Bridging:
//   - [ResponseConsumer]: the push to pull bridge (created via [NewResponseConsumer])
//   - [ReadPump]: a driver that pushes an [io.Reader] into a [ContentConsumer]
//   - [SyncBufferPool]: the default [BufferPool]
//   - [Executor] and [Job]: scheduling of background tasks, satisfied by
//     a *errgroup.Group
//
// HTTP:
//   - [ConnectFunc]: dials a "host:port" endpoint (created via [NewConnectFunc])
//   - [TLSHandshakeFunc]: performs the TLS handshake, offering ALPN
//     (created via [NewTLSHandshakeFunc])
//   - [HTTPConn]: wraps a connection with an HTTP transport and streams each
//     response body through the bridge (created via [NewHTTPConnFunc])
//
// Outgoing content:
//   - [OutgoingContent]: the closed set of body producers, namely
//     [NoContent], [ReadableContent], [WritableContent], [MaterializedContent],
//     and [ProtocolUpgrade]
//   - [WriteContent]: sends an [OutgoingContent] using an [http.ResponseWriter]
//
// Composition utilities:
//   - [Func], [FuncAdapter], [Compose2], [Compose3]: chain the steps that
//     build an [*HTTPConn] into a pipeline
//
// # Buffer Ownership
//
// Every buffer has exactly one owner. The consumer owns the buffer it is
// filling, the transfer queue owns the buffers in transit, and the drain
// task owns the buffer it is writing. Whoever drops a buffer recycles it,
// so that the pool gets every borrowed buffer back once the drain task has
// exited, on every success and failure path.
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible with [log/slog]).
//
// By default, logging is disabled. Set the Logger field to a custom [*slog.Logger]
// to enable logging. Error classification is configurable via [ErrClassifier]; by
// default, [DefaultErrClassifier] is used. Counters are configurable via
// [BridgeMetrics]; [PrometheusMetrics] exports them to Prometheus.
//
// Span events come in *Start/*Done pairs (connect, tlsHandshake, httpRoundTrip, httpBodyStream,
// bridgeDrain, bridgeRelease, readPump). Completion events (*Done) include
// t0 (start time), t, err, and errClass. Per-chunk events (bridgeEnqueue,
// bridgeWriteStart/Done, bridgeSuspendInput, bridgeRequestInput) are emitted
// at [slog.LevelDebug]; all other events use [slog.LevelInfo].
//
// Use [NewSpanID] to generate a unique, time-ordered identifier (UUIDv7) for each
// streamed body, then attach it to the logger with [*slog.Logger.With].
//
// # Timeout and Context Philosophy
//
// This package is context-transparent: operations never modify the context they receive.
// The caller controls timeouts externally via [context.WithTimeout], [context.WithDeadline],
// or [signal.NotifyContext]. The bridge itself has no timeouts.
package bridge
