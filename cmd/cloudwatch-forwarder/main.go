package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/szibis/cloudwatch-forwarder/internal/cardinality"
	"github.com/szibis/cloudwatch-forwarder/internal/config"
	"github.com/szibis/cloudwatch-forwarder/internal/cwclient"
	"github.com/szibis/cloudwatch-forwarder/internal/emitter"
	"github.com/szibis/cloudwatch-forwarder/internal/health"
	"github.com/szibis/cloudwatch-forwarder/internal/logging"
	"github.com/szibis/cloudwatch-forwarder/internal/poller"
	"github.com/szibis/cloudwatch-forwarder/internal/query"
	"github.com/szibis/cloudwatch-forwarder/internal/sink"
	"github.com/szibis/cloudwatch-forwarder/internal/stats"
	"github.com/szibis/cloudwatch-forwarder/internal/telemetry"
)

func main() {
	cfg := config.ParseFlags()

	if cfg.ShowHelp {
		config.PrintUsage()
		os.Exit(0)
	}

	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetResource(map[string]string{
		"service.name":    "cloudwatch-forwarder",
		"service.version": config.Version(),
	})

	// Derive GOMEMLIMIT from the container memory limit. Ratio 0 disables it.
	if cfg.MemoryLimitRatio > 0 {
		limit, err := memlimit.SetGoMemLimitWithOpts(
			memlimit.WithRatio(cfg.MemoryLimitRatio),
			memlimit.WithProvider(
				memlimit.ApplyFallback(
					memlimit.FromCgroup,
					memlimit.FromSystem,
				),
			),
		)
		if err != nil {
			logging.Warn("automatic GOMEMLIMIT not set", logging.F("error", err.Error()))
		} else {
			logging.Info("GOMEMLIMIT set", logging.F("bytes", limit, "ratio", cfg.MemoryLimitRatio))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OTLP telemetry (disabled when no endpoint is configured)
	tel, err := telemetry.Init(ctx, cfg.TelemetryConfig(), "cloudwatch-forwarder", config.Version())
	if err != nil {
		logging.Fatal("failed to initialize telemetry", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
		logging.Info("telemetry enabled", logging.F(
			"endpoint", cfg.TelemetryEndpoint,
			"protocol", cfg.TelemetryProtocol,
		))
	}

	// Create the fluent sink
	snk, err := sink.NewFluent(cfg.SinkConfig())
	if err != nil {
		logging.Fatal("failed to create fluent sink", logging.F(
			"error", err.Error(),
			"host", cfg.FluentHost,
			"port", cfg.FluentPort,
		))
	}

	// Parse metric specs and build the query planner
	specs := query.ParseMetricList(cfg.CWMetrics, cfg.CWStatistics)
	if len(specs) == 0 {
		logging.Fatal("no metrics to poll", logging.F("metrics", cfg.CWMetrics))
	}
	builder := &query.Builder{
		Namespace:  cfg.CWNamespace,
		Period:     cfg.CWPeriod,
		Offset:     cfg.TimeOffset,
		Dimensions: query.BuildDimensions(cfg.CWDimensionNames, cfg.CWDimensionValues),
		GroupBy:    cfg.GroupByFields(),
	}
	mode := stats.ModeAggregate
	if builder.Grouped() {
		mode = stats.ModeGrouped
	}

	// Create stats collector with SLI tracking
	statsCollector := stats.NewCollector()
	statsCollector.AttachSLI(stats.NewSLITracker(stats.SLIConfig{
		Enabled:      stats.DefaultSLIEnabled,
		PollTarget:   stats.DefaultPollTarget,
		EmitTarget:   stats.DefaultEmitTarget,
		BudgetWindow: stats.DefaultBudgetWindow,
	}))

	// Grouped mode tracks distinct group keys for cardinality warnings
	var tracker cardinality.Tracker
	if builder.Grouped() {
		tracker = cardinality.NewTracker(cfg.CardinalityConfig())
		statsCollector.SetCardinalityProbes(tracker.Distinct, tracker.FootprintBytes)
		statsCollector.SetGroupCardinalityLimit(int64(cfg.GroupCardinalityLimit))
	}

	emit := emitter.New(cfg.EmitterConfig(), snk, statsCollector, tracker)

	// Create the poll watchdog; each worker gets a fresh CloudWatch client
	wd := poller.NewWatchdog(poller.Config{
		Interval:     cfg.PollInterval,
		DelayedStart: cfg.DelayedStart,
	}, poller.Deps{
		Specs:   specs,
		Builder: builder,
		Emitter: emit,
		NewClient: func(ctx context.Context) (cwclient.API, error) {
			client, err := cwclient.New(ctx, cfg.CWClientConfig())
			if err != nil {
				return nil, err
			}
			return cwclient.NewInstrumented(client), nil
		},
		Stats: statsCollector,
	})
	statsCollector.SetHeartbeatProbe(wd.HeartbeatAge)

	// Register health checks
	healthChecker := health.New()
	healthChecker.RegisterReadiness("poller", health.PollerCheck(wd.HeartbeatAge, cfg.PollInterval))
	healthChecker.RegisterReadiness("sink", health.SinkCheck(snk.Healthy))

	// Stats HTTP server with combined metrics
	runtimeStats := stats.NewRuntimeStats()
	promHandler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		DisableCompression: true,
	})

	statsMux := http.NewServeMux()
	statsMux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		statsCollector.ServeHTTP(w, r)
		runtimeStats.ServeHTTP(w, r)
		promHandler.ServeHTTP(w, r)
	})
	statsMux.HandleFunc("/healthz", healthChecker.LiveHandler())
	statsMux.HandleFunc("/readyz", healthChecker.ReadyHandler())

	tlsConfig, err := cfg.StatsTLSConfig().Build()
	if err != nil {
		logging.Fatal("failed to load stats TLS configuration", logging.F("error", err.Error()))
	}

	statsServer := &http.Server{
		Addr:              cfg.StatsAddr,
		Handler:           gzhttp.GzipHandler(statsMux),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logging.Info("stats endpoint started", logging.F(
			"addr", cfg.StatsAddr,
			"tls", tlsConfig != nil,
		))
		var err error
		if tlsConfig != nil {
			err = statsServer.ListenAndServeTLS("", "")
		} else {
			err = statsServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logging.Error("stats server error", logging.F("error", err.Error()))
		}
	}()

	// Start the poll engine and periodic stats logging
	go wd.Run(ctx)
	go statsCollector.StartPeriodicLogging(ctx, cfg.StatsLogInterval)

	logging.Info("cloudwatch-forwarder started", logging.F(
		"namespace", cfg.CWNamespace,
		"metrics", len(specs),
		"mode", mode,
		"poll_interval", cfg.PollInterval.String(),
		"period", cfg.CWPeriod.String(),
		"fluent_target", fmt.Sprintf("%s:%d", cfg.FluentHost, cfg.FluentPort),
		"stats_addr", cfg.StatsAddr,
	))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info("shutting down")

	// Fail readiness first so load balancers drain, then stop the poll loop
	healthChecker.SetShuttingDown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := statsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("stats server shutdown error", logging.F("error", err.Error()))
	}
	if err := snk.Close(); err != nil {
		logging.Error("fluent sink close error", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		telCtx, telCancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
		if err := tel.Shutdown(telCtx); err != nil {
			logging.Error("telemetry shutdown error", logging.F("error", err.Error()))
		}
		telCancel()
	}

	logging.Info("shutdown complete")
}
