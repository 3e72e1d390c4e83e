package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"pv-simulator/internal/database"
	"pv-simulator/internal/models"
	"pv-simulator/internal/simulation"
	"pv-simulator/pkg/config"
)

func main() {
	os.Exit(run())
}

// bindFlags registers the command line on fs. Flags default to the loaded config.
func bindFlags(fs *flag.FlagSet, cfg *config.SimulationConfig) (seed *int64, startTime *string) {
	fs.IntVar(&cfg.SamplingIntervalSeconds, "interval", cfg.SamplingIntervalSeconds, "sampling interval in seconds of simulated time")
	fs.Float64Var(&cfg.RunLengthHours, "length", cfg.RunLengthHours, "simulated run length in hours")
	fs.StringVar(&cfg.BrokerEndpoint, "broker", cfg.BrokerEndpoint, "broker endpoint (tcp://, mqtt://, ssl://, ws://, wss://, nats://, amqp://, amqps://, mem://)")
	fs.StringVar(&cfg.OutputPath, "output", cfg.OutputPath, "output JSON file")
	seed = fs.Int64("seed", cfg.Seed, "random seed (random when unset); pin -start as well for byte-identical output")
	startTime = fs.String("start", "", "simulated start instant, RFC3339 (default now)")
	fs.DurationVar(&cfg.TickDelay, "tick-delay", cfg.TickDelay, "real time between ticks, 0 runs as fast as possible")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	return seed, startTime
}

func run() int {
	// Load configuration, flags override the environment
	cfg := config.Load()

	seed, startTime := bindFlags(flag.CommandLine, cfg)
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			cfg.Seed = *seed
			cfg.HasSeed = true
		}
	})

	logger, err := newLogger(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	for _, warning := range cfg.Warnings {
		logger.Warn("Configuration", zap.String("warning", warning))
	}

	if *startTime != "" {
		parsed, err := time.Parse(time.RFC3339, *startTime)
		if err != nil {
			logger.Error("Invalid -start", zap.Error(fmt.Errorf("%w: %v", models.ErrConfig, err)))
			return 2
		}
		cfg.StartTime = parsed
	}

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []simulation.Option
	if cfg.ClickHouseAddr != "" {
		db, err := database.NewClickHouseDB(ctx, database.ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePass,
		}, logger)
		if err != nil {
			// the JSON file is the durable output, run without the mirror
			logger.Warn("ClickHouse mirror disabled", zap.Error(err))
		} else {
			defer db.Close()
			opts = append(opts, simulation.WithStore(db))
		}
	}

	controller := simulation.NewController(cfg, logger, opts...)

	if cfg.MetricsAddr != "" {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()
		go func() {
			if err := controller.Metrics().Serve(metricsCtx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	summary, err := controller.Run(ctx)
	if err != nil {
		logger.Error("Simulation failed",
			zap.Stringer("run_id", summary.RunID),
			zap.Stringer("state", summary.State),
			zap.Int("records", summary.Records),
			zap.Error(err))
		return exitCode(err)
	}

	logger.Info("Simulation finished",
		zap.Stringer("run_id", summary.RunID),
		zap.Int64("seed", summary.Seed),
		zap.Int("records", summary.Records),
		zap.Int("dropped", len(summary.Dropped)),
		zap.String("output", summary.OutputPath))
	return 0
}

func newLogger(format string) (*zap.Logger, error) {
	if format == "json" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// exitCode maps the error taxonomy onto process exit codes
func exitCode(err error) int {
	switch {
	case errors.Is(err, models.ErrConfig):
		return 2
	case errors.Is(err, models.ErrBroker):
		return 3
	case errors.Is(err, models.ErrSinkWrite):
		return 4
	default:
		return 1
	}
}
