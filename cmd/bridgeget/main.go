// SPDX-License-Identifier: GPL-3.0-or-later

// Command bridgeget fetches a URL and copies the response body to the
// standard output, streaming it through the bridge.
//
// Usage:
//
//	bridgeget [-config file.toml] URL
//
// Structured logs are written to the standard error using JSON.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"

	"github.com/bassosimone/bridge"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run implements the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("bridgeget", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "optional TOML configuration file")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: bridgeget [-config file.toml] URL")
		return 2
	}

	fc, err := loadFileConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "bridgeget: %s\n", err)
		return 1
	}
	if err := fetch(ctx, fc, flags.Arg(0), stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "bridgeget: %s\n", err)
		return 1
	}
	return 0
}

// loadFileConfig reads the config file or returns the defaults.
func loadFileConfig(path string) (*fileConfig, error) {
	if path == "" {
		return defaultFileConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseFileConfig(string(data))
}

// fetch performs the round trip and copies the body to stdout.
func fetch(ctx context.Context, fc *fileConfig, rawURL string, stdout, stderr io.Writer) error {
	target, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	timeout, _ := fc.timeout()
	level, _ := fc.logLevel()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := fc.bridgeConfig()
	group := &errgroup.Group{}
	cfg.Executor = group
	reg := prometheus.NewRegistry()
	cfg.Metrics = bridge.NewPrometheusMetrics(reg, fc.MetricsNamespace)

	handler := slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With("spanID", bridge.NewSpanID())

	dialPipe, err := newDialPipe(cfg, target, logger)
	if err != nil {
		return err
	}
	httpConn, err := dialPipe.Call(ctx, endpointAddress(target))
	if err != nil {
		return err
	}
	defer httpConn.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := httpConn.RoundTrip(req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	_, copyErr := io.Copy(stdout, resp.Body)
	closeErr := resp.Body.Close()
	streamErr := group.Wait()
	logMetrics(logger, reg)
	return errors.Join(copyErr, closeErr, streamErr)
}

// newDialPipe returns the pipeline creating an [*bridge.HTTPConn] for target.
func newDialPipe(cfg *bridge.Config, target *url.URL, logger *slog.Logger) (bridge.Func[string, *bridge.HTTPConn], error) {
	connectOp := bridge.NewConnectFunc(cfg, "tcp", logger)

	switch target.Scheme {
	case "http":
		return bridge.Compose2[string, net.Conn, *bridge.HTTPConn](
			connectOp, bridge.NewHTTPConnFuncPlain(cfg, logger)), nil

	case "https":
		tlsConfig := &tls.Config{
			ServerName: target.Hostname(),
			NextProtos: []string{"h2", "http/1.1"},
		}
		return bridge.Compose3[string, net.Conn, bridge.TLSConn, *bridge.HTTPConn](
			connectOp,
			bridge.NewTLSHandshakeFunc(cfg, tlsConfig, logger),
			bridge.NewHTTPConnFuncTLS(cfg, logger),
		), nil

	default:
		return nil, fmt.Errorf("unsupported URL scheme: %q", target.Scheme)
	}
}

// endpointAddress returns the host:port to dial for target.
func endpointAddress(target *url.URL) string {
	port := target.Port()
	if port == "" {
		port = "80"
		if target.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(target.Hostname(), port)
}

// logMetrics emits the bridge counters as a single event.
func logMetrics(logger *slog.Logger, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		logger.Info("bridgeMetrics", slog.Any("err", err))
		return
	}
	var attrs []any
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			value := metric.GetCounter().GetValue()
			if gauge := metric.GetGauge(); gauge != nil {
				value = gauge.GetValue()
			}
			attrs = append(attrs, slog.Float64(family.GetName(), value))
		}
	}
	logger.Info("bridgeMetrics", attrs...)
}
