package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"progsynth/internal/platform"
	"progsynth/pkg/progsynth"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root, opts := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, opts.teardown(ctx))
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	logLevel     string
	logFormat    string
	storeKind    string
	dbPath       string
	artifactsDir string
	exportsDir   string
	metricsAddr  string
	traceStdout  bool

	logger   *slog.Logger
	metrics  *platform.Metrics
	tracer   trace.TracerProvider
	shutdown []func(context.Context) error
}

func newRootCommand() (*cobra.Command, *globalOptions) {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "progsynthctl",
		Short:         "Evolve tape-language programs from input/output examples",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text|json")
	flags.StringVar(&opts.storeKind, "store", "", "genome store backend: memory|sqlite|badger")
	flags.StringVar(&opts.dbPath, "db", "", "sqlite file or badger directory")
	flags.StringVar(&opts.artifactsDir, "artifacts-dir", "", "directory for run artifacts")
	flags.StringVar(&opts.exportsDir, "exports-dir", "exports", "directory for exported runs")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
	flags.BoolVar(&opts.traceStdout, "trace-stdout", false, "write trace spans to stderr")

	root.AddCommand(
		newInitCommand(opts),
		newRunCommand(opts),
		newBenchmarkCommand(opts),
		newGenomesCommand(opts),
		newTasksCommand(opts),
		newRunsCommand(opts),
		newExportCommand(opts),
	)
	return root, opts
}

func (o *globalOptions) setup(cmd *cobra.Command) error {
	logger, err := newLogger(cmd.ErrOrStderr(), o.logLevel, o.logFormat)
	if err != nil {
		return err
	}
	o.logger = logger

	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		o.metrics = platform.NewMetrics(reg)
		o.serveMetrics(reg)
	} else {
		o.metrics = platform.NewMetrics(nil)
	}

	if o.traceStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(cmd.ErrOrStderr()), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		o.tracer = tp
		o.shutdown = append(o.shutdown, tp.Shutdown)
	}
	return nil
}

func (o *globalOptions) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: o.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("metrics server failed", slog.String("addr", o.metricsAddr), slog.Any("error", err))
		}
	}()
	o.logger.Info("serving metrics", slog.String("addr", o.metricsAddr))
	o.shutdown = append(o.shutdown, srv.Shutdown)
}

func (o *globalOptions) teardown(ctx context.Context) error {
	// The command context may already be cancelled by a signal.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(o.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, o.shutdown[i](ctx))
	}
	o.shutdown = nil
	return errors.Join(errs...)
}

// client opens a progsynth client. Empty store flags fall back to the given
// defaults, which commands take from a run config when one is loaded.
func (o *globalOptions) client(storeKind, dbPath, artifactsDir string, plot bool) (*progsynth.Client, error) {
	if o.storeKind != "" {
		storeKind = o.storeKind
	}
	if o.dbPath != "" {
		dbPath = o.dbPath
	}
	if o.artifactsDir != "" {
		artifactsDir = o.artifactsDir
	}
	return progsynth.New(progsynth.Options{
		StoreKind:      storeKind,
		DBPath:         dbPath,
		ArtifactsDir:   artifactsDir,
		ExportsDir:     o.exportsDir,
		Plot:           plot,
		Logger:         o.logger,
		Metrics:        o.metrics,
		TracerProvider: o.tracer,
	})
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: want text or json", format)
	}
}
