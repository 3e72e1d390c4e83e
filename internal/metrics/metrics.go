// Package metrics exposes run counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"pv-simulator/internal/models"
)

// Metrics holds the collectors of one run. Each run gets its own registry so
// concurrent runs (and tests) never share counters.
type Metrics struct {
	registry *prometheus.Registry

	published    *prometheus.CounterVec
	correlated   prometheus.Counter
	dropped      *prometheus.CounterVec
	redeliveries *prometheus.CounterVec
	runState     prometheus.Gauge
}

// New creates and registers the run collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pvsim_readings_published_total",
				Help: "Readings published to the broker, by topic",
			},
			[]string{"topic"},
		),
		correlated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pvsim_records_correlated_total",
			Help: "Meter and PV pairs combined into observation records",
		}),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pvsim_samples_dropped_total",
				Help: "Readings discarded because no partner arrived before the run ended",
			},
			[]string{"topic"},
		),
		redeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pvsim_redeliveries_total",
				Help: "Duplicate or stale deliveries ignored by the correlator",
			},
			[]string{"topic"},
		),
		runState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pvsim_run_state",
			Help: "Current run state: 0 idle, 1 running, 2 draining, 3 completed, 4 failed",
		}),
	}

	m.registry.MustRegister(m.published, m.correlated, m.dropped, m.redeliveries, m.runState)
	return m
}

// Registry returns the run's registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ReadingPublished(topic models.Topic) {
	m.published.WithLabelValues(string(topic)).Inc()
}

func (m *Metrics) RecordCorrelated() {
	m.correlated.Inc()
}

func (m *Metrics) SampleDropped(topic models.Topic) {
	m.dropped.WithLabelValues(string(topic)).Inc()
}

func (m *Metrics) Redelivered(topic models.Topic) {
	m.redeliveries.WithLabelValues(string(topic)).Inc()
}

// SetRunState records the numeric code of the run state
func (m *Metrics) SetRunState(code int) {
	m.runState.Set(float64(code))
}

// Handler serves the run's registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting metrics server", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
