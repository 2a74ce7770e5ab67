// busworker runs the bus validator worker: it provisions the broker
// topology, consumes the catch-all queue, and serves health and metrics
// endpoints.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	servicebus "github.com/Johannson17/tolling-service-bus"
	"github.com/Johannson17/tolling-service-bus/config"
	"github.com/Johannson17/tolling-service-bus/health"
	"github.com/Johannson17/tolling-service-bus/internal/rabbitmq"
	"github.com/Johannson17/tolling-service-bus/metrics"
	"github.com/Johannson17/tolling-service-bus/worker"
)

var (
	version = "dev"
)

func main() {
	var (
		configPath string
		listenAddr string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:     "busworker",
		Short:   "Validator worker for the tolling service bus",
		Long:    "busworker consumes every message crossing the bus, validates it against the registered schemas, and dead-letters non-conforming traffic with an audit trail.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, listenAddr, logLevel)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "bus.yaml", "path to the bus configuration file")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8080", "address for health and metrics endpoints")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr, logLevel string) error {
	logger := newLogger(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	busMetrics := metrics.NewBusMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := busMetrics.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	client, err := servicebus.NewClient(cfg,
		servicebus.WithLogger(logger),
		servicebus.WithMetrics(busMetrics),
	)
	if err != nil {
		return fmt.Errorf("create bus client: %w", err)
	}
	defer client.Close()

	reporter := health.NewReporter()
	reporter.Register(health.NewBrokerChecker(client.Manager()))
	reporter.Register(health.NewTopologyChecker(client.Manager()))

	mux := http.NewServeMux()
	mux.Handle("/health", reporter.Handler(10*time.Second))
	mux.HandleFunc("/ready", reporter.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: listenAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("serving health and metrics", "addr", listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()

	validator := worker.NewValidator(cfg, client,
		worker.WithLogger(logger),
		worker.WithMetrics(busMetrics),
	)

	logger.Info("validator worker starting",
		"broker", rabbitmq.SanitizeURL(cfg.Broker.URL),
		"queue", cfg.Topology.ValidatorQueue)

	err = validator.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	if errors.Is(err, context.Canceled) {
		logger.Info("validator worker stopped")
		return nil
	}
	return err
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
