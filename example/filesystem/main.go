// Command filesystem serves the filesystem MCP server over stdio or streamable HTTP.
//
// Usage:
//
//	filesystem [OPTIONS] [directory...]
//
// Allowed directories come from the config file and the positional arguments. A client that
// exposes roots replaces them for its own session.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/go-mcp-servers/roots"
	"github.com/MegaGrindStone/go-mcp-servers/servers/filesystem"
	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var p params
	parser := flags.NewParser(&p, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			parser.WriteHelp(os.Stdout)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: failed to parse flags: %v\n", err)
		os.Exit(2)
	}

	conf, err := loadConfig(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, conf config) error {
	level, err := conf.level()
	if err != nil {
		return err
	}
	// stdout carries the protocol on stdio.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	validator := roots.New(
		roots.WithLogger(logger),
		roots.WithConcurrency(conf.RootConcurrency),
	)
	srv, err := filesystem.NewServer(conf.AllowedDirectories,
		filesystem.WithLogger(logger),
		filesystem.WithMetrics(filesystem.NewMetrics(reg)),
		filesystem.WithRootValidator(validator),
		filesystem.WithSessionIDGenerator(uuid.NewString),
	)
	if err != nil {
		return fmt.Errorf("failed to create filesystem server: %w", err)
	}

	logger = logger.With(slog.String("transport", conf.Transport))
	if len(srv.Directories()) == 0 {
		logger.Warn("no allowed directories configured; tools fail until a client provides roots")
	}
	logger.Info("starting filesystem server", slog.Any("directories", srv.Directories()))

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})

	g, ctx := errgroup.WithContext(ctx)

	if conf.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		g.Go(func() error {
			return listenAndServe(ctx, logger, conf.MetricsAddr, mux)
		})
	}

	switch conf.Transport {
	case transportHTTP:
		mux := http.NewServeMux()
		mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return srv.MCP()
		}, nil))
		if conf.MetricsAddr == "" {
			mux.Handle("/metrics", metricsHandler)
		}
		g.Go(func() error {
			return listenAndServe(ctx, logger, conf.Addr, mux)
		})
	default:
		g.Go(func() error {
			err := srv.MCP().Run(ctx, &mcp.StdioTransport{})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stdio server stopped: %w", err)
			}
			// Client hung up; stop any metrics listener too.
			return errStdioClosed
		})
	}

	err = g.Wait()
	if errors.Is(err, errStdioClosed) || errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("filesystem server stopped")
	return err
}

var errStdioClosed = errors.New("stdio session closed")

// listenAndServe serves h on addr until ctx is done, then shuts the listener down gracefully.
func listenAndServe(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr))
		errs <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("failed to serve on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shut down HTTP server", slog.String("addr", addr), slog.String("err", err.Error()))
	}
	return nil
}
