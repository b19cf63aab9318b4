// File: cmd/serve.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
	"github.com/xkilldash9x/pagelens/internal/observability"
	"github.com/xkilldash9x/pagelens/internal/service"
)

const (
	// maxRequestLine bounds one NDJSON request; cookie payloads dominate its size.
	maxRequestLine = 1 << 20

	metricsShutdownTimeout = 5 * time.Second
)

func newServeCmd(c *cli) *cobra.Command {
	var metricsAddr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer newline-delimited JSON tool requests on stdin",
		Long: `serve keeps one browser session alive and reads one JSON request per line from stdin:

  {"id":"1","command":"screenshot","params":{"url":"https://example.com","fullPage":true}}
  {"id":"2","command":"read_console","params":{"url":"https://example.com","timeout":3000}}

Each request is answered with one JSON line on stdout carrying the same id. Requests run
concurrently, so responses may arrive out of order. A malformed request gets an error
response; it never stops the loop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr != "" {
				c.cfg.MetricsCfg.Enabled = true
				c.cfg.MetricsCfg.ListenAddr = metricsAddr
			}

			svc, err := c.newService()
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			serveCtx, stopServing := context.WithCancel(ctx)
			defer stopServing()

			if m := c.cfg.Metrics(); m.Enabled {
				g.Go(func() error {
					return serveMetrics(serveCtx, m.ListenAddr, c.registry)
				})
			}
			g.Go(func() error {
				defer stopServing()
				return serveRequests(serveCtx, svc, cmd.InOrStdin(), cmd.OutOrStdout())
			})

			err = g.Wait()
			svc.Shutdown(context.Background())
			return err
		},
	}

	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (overrides config)")
	return serveCmd
}

// serveRequests answers every line of in on out until in is exhausted or ctx ends.
// In-flight requests are awaited before it returns.
func serveRequests(ctx context.Context, svc *service.Service, in io.Reader, out io.Writer) error {
	logger := observability.GetLogger().Named("serve")
	var (
		wg      sync.WaitGroup
		writeMu sync.Mutex
	)
	enc := json.NewEncoder(out)
	respond := func(resp service.Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := enc.Encode(resp); err != nil {
			logger.Error("Failed to write response.", zap.String("id", resp.ID), zap.Error(err))
		}
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxRequestLine)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	logger.Info("Serving requests on stdin.")
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping request loop.", zap.Error(ctx.Err()))
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("reading requests: %w", err)
				}
				logger.Info("Input closed, waiting for in-flight requests.")
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var req service.CommandRequest
			if err := json.UnmarshalFromString(line, &req); err != nil {
				respond(service.Response{
					Status: service.StatusError,
					Error: &service.ErrorPayload{
						Category: apperrors.CategoryValidation,
						Message:  "request is not valid JSON",
					},
				})
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				respond(svc.Handle(ctx, req))
			}()
		}
	}
}

// serveMetrics exposes reg on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	logger := observability.GetLogger().Named("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics.", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed.", zap.Error(err))
		}
		return nil
	}
}
