// Package simulation runs one household energy simulation from configuration to
// output file.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"pv-simulator/internal/aggregator"
	"pv-simulator/internal/broker"
	"pv-simulator/internal/database"
	"pv-simulator/internal/generator"
	"pv-simulator/internal/metrics"
	"pv-simulator/internal/models"
	"pv-simulator/internal/services"
	"pv-simulator/internal/simclock"
	"pv-simulator/internal/sink"
	"pv-simulator/pkg/config"
)

// State is the lifecycle stage of a run
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrAlreadyStarted is returned when Run is called on a used controller
var ErrAlreadyStarted = errors.New("simulation already started")

// Summary describes a finished run
type Summary struct {
	RunID      uuid.UUID
	State      State
	Seed       int64
	Records    int
	Dropped    []models.CorrelationDrop
	Published  map[models.Topic]int
	OutputPath string
	Energy     aggregator.EnergySummary
}

// ObservationStore mirrors finished runs into a database
type ObservationStore interface {
	SaveObservations(ctx context.Context, runID uuid.UUID, records []models.PowerObservationRecord) error
	SaveRun(ctx context.Context, run database.RunRow) error
}

// Controller drives the Idle -> Running -> Draining -> Completed state machine.
// Any fatal error moves it to Failed. A controller runs once.
type Controller struct {
	cfg     *config.SimulationConfig
	dial    broker.Dialer
	store   ObservationStore
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	state   State
	started bool
	runID   uuid.UUID
}

// Option customises a Controller
type Option func(*Controller)

// WithDialer replaces the endpoint dialer
func WithDialer(dial broker.Dialer) Option {
	return func(c *Controller) { c.dial = dial }
}

// WithStore enables the database mirror
func WithStore(store ObservationStore) Option {
	return func(c *Controller) { c.store = store }
}

// WithMetrics uses m instead of a fresh registry
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController creates a controller for one run
func NewController(cfg *config.SimulationConfig, logger *zap.Logger, opts ...Option) *Controller {
	runID := uuid.New()
	c := &Controller{
		cfg:    cfg,
		logger: logger.Named("controller").With(zap.Stringer("run_id", runID)),
		runID:  runID,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		c.dial = broker.NewDialer(broker.Options{
			ClientID:       fmt.Sprintf("%s-%s", cfg.MQTTClientID, runID.String()[:8]),
			Username:       cfg.MQTTUsername,
			Password:       cfg.MQTTPassword,
			TopicPrefix:    cfg.MQTTTopicPrefix,
			ConnectTimeout: 5 * time.Second,
		}, logger)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	return c
}

// RunID identifies this run in logs and in the database mirror
func (c *Controller) RunID() uuid.UUID {
	return c.runID
}

// Metrics returns the run's collectors
func (c *Controller) Metrics() *metrics.Metrics {
	return c.metrics
}

// State returns the current lifecycle stage
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	c.metrics.SetRunState(int(to))
	c.logger.Info("State transition", zap.Stringer("from", from), zap.Stringer("to", to))
}

// Run executes the simulation. The summary is filled in as far as the run got,
// also when an error is returned.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	c.mu.Lock()
	if c.started {
		state := c.state
		c.mu.Unlock()
		return Summary{RunID: c.runID, State: state}, ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	summary := Summary{
		RunID:      c.runID,
		State:      StateIdle,
		Published:  make(map[models.Topic]int),
		OutputPath: c.cfg.OutputPath,
	}

	fail := func(err error) (Summary, error) {
		c.transition(StateFailed)
		summary.State = StateFailed
		c.logger.Error("Run failed", zap.Error(err))
		return summary, err
	}

	if err := c.cfg.Validate(); err != nil {
		return fail(err)
	}

	clock, err := simclock.New(c.cfg.Origin(), c.cfg.SamplingInterval(), c.cfg.RunLength())
	if err != nil {
		return fail(fmt.Errorf("%w: %v", models.ErrConfig, err))
	}
	meterModel, err := generator.NewMeterModel(c.cfg.MeterMaxWatts)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", models.ErrConfig, err))
	}
	seed := c.cfg.ResolveSeed()
	summary.Seed = seed

	c.logger.Info("Starting simulation",
		zap.Time("origin", clock.Origin()),
		zap.Duration("interval", clock.Interval()),
		zap.Int("ticks", clock.Ticks()),
		zap.Int64("seed", seed),
		zap.String("endpoint", c.cfg.BrokerEndpoint),
		zap.String("output", c.cfg.OutputPath))

	channel, err := broker.DialWithRetry(ctx, c.dial, c.cfg.BrokerEndpoint, c.cfg.ConnectBackoff, c.logger)
	if err != nil {
		return fail(err)
	}
	closeChannel := func() {
		if err := channel.Close(); err != nil {
			c.logger.Warn("Error closing broker channel", zap.Error(err))
		}
	}

	output := sink.NewJSONSink(c.cfg.OutputPath, c.logger)
	correlator := services.NewCorrelatorService(
		services.CorrelatorServiceConfig{DrainGrace: c.cfg.DrainGrace},
		channel, output, c.metrics, c.logger,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// subscribe first so no reading is published before anyone listens
	if err := correlator.Subscribe(runCtx); err != nil {
		closeChannel()
		return fail(err)
	}

	publishers := []*services.PublisherService{
		services.NewPublisherService(
			services.PublisherServiceConfig{Topic: models.TopicMeter, TickDelay: c.cfg.TickDelay},
			generator.New(meterModel, seed),
			clock, channel, c.metrics, c.logger,
		),
		services.NewPublisherService(
			services.PublisherServiceConfig{Topic: models.TopicPV, TickDelay: c.cfg.TickDelay},
			generator.New(generator.DefaultPVModel(), seed+1),
			clock, channel, c.metrics, c.logger,
		),
	}

	c.transition(StateRunning)
	summary.State = StateRunning

	drain := make(chan struct{})
	var result services.CorrelationResult

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		var err error
		result, err = correlator.Run(gctx, drain)
		return err
	})
	g.Go(func() error {
		pg, pctx := errgroup.WithContext(gctx)
		for _, p := range publishers {
			p := p
			pg.Go(func() error { return p.Run(pctx) })
		}
		if err := pg.Wait(); err != nil {
			return err
		}
		c.transition(StateDraining)
		close(drain)
		return nil
	})
	runErr := g.Wait()
	closeChannel()

	for _, p := range publishers {
		summary.Published[p.Topic()] = p.Published()
	}
	summary.Records = result.Records
	summary.Dropped = result.Dropped

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(runErr, ctxErr) {
			c.logger.Warn("Run cancelled")
		}
		// keep the records that were completed before the failure
		if flushErr := output.Flush(); flushErr != nil {
			runErr = errors.Join(runErr, flushErr)
		}
		return fail(runErr)
	}

	if err := output.Flush(); err != nil {
		return fail(err)
	}

	c.transition(StateCompleted)
	summary.State = StateCompleted

	records := output.Records()
	summary.Energy = aggregator.SummarizeEnergy(records, clock.Interval())
	c.mirror(ctx, summary, records)

	c.logger.Info("Simulation completed",
		zap.Int("records", summary.Records),
		zap.Int("dropped", len(summary.Dropped)),
		zap.Int("published_meter", summary.Published[models.TopicMeter]),
		zap.Int("published_pv", summary.Published[models.TopicPV]),
		zap.Float64("consumed_kwh", summary.Energy.ConsumedKWh),
		zap.Float64("produced_kwh", summary.Energy.ProducedKWh),
		zap.Float64("peak_pv_watts", summary.Energy.PeakPVWatts))
	return summary, nil
}

// mirror copies the records into the store; failures only get logged
func (c *Controller) mirror(ctx context.Context, summary Summary, records []models.PowerObservationRecord) {
	if c.store == nil {
		return
	}

	if err := c.store.SaveObservations(ctx, summary.RunID, records); err != nil {
		c.logger.Warn("Database mirror failed", zap.Error(err))
		return
	}
	if err := c.store.SaveRun(ctx, database.RunRow{
		RunID:      summary.RunID,
		FinishedAt: time.Now().UTC(),
		State:      summary.State.String(),
		Records:    summary.Records,
		Dropped:    len(summary.Dropped),
		OutputPath: summary.OutputPath,
	}); err != nil {
		c.logger.Warn("Saving run summary failed", zap.Error(err))
	}
}
