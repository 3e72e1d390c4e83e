package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"pv-simulator/internal/models"
	"pv-simulator/internal/simclock"
)

// SimulationConfig is fixed for the lifetime of a run
type SimulationConfig struct {
	// Core run parameters
	SamplingIntervalSeconds int
	RunLengthHours          float64
	BrokerEndpoint          string
	OutputPath              string

	// Reproducibility
	Seed      int64
	HasSeed   bool
	StartTime time.Time // zero means "now"

	// Pacing and shutdown
	TickDelay      time.Duration // real time between ticks, 0 = as fast as possible
	DrainGrace     time.Duration // idle wait while draining
	ConnectBackoff time.Duration // wait before the single connect retry

	// Models
	MeterMaxWatts float64

	// MQTT Configuration
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	// ClickHouse Configuration (mirror disabled when ClickHouseAddr is empty)
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// Observability
	MetricsAddr string
	LogFormat   string

	// Warnings collects values that failed to parse and fell back to defaults
	Warnings []string
}

// Load reads the configuration from the environment, after loading a .env file if present
func Load() *SimulationConfig {
	_ = godotenv.Load()

	env := &envLoader{}
	cfg := &SimulationConfig{
		SamplingIntervalSeconds: env.getEnvInt("SIM_INTERVAL_SECONDS", 5),
		RunLengthHours:          env.getEnvFloat("SIM_LENGTH_HOURS", 24),
		BrokerEndpoint:          getEnv("SIM_BROKER_URL", "tcp://localhost:1883"),
		OutputPath:              getEnv("SIM_OUTPUT_PATH", "./pv_simulation_output.json"),

		TickDelay:      env.getEnvDuration("SIM_TICK_DELAY", 0),
		DrainGrace:     env.getEnvDuration("SIM_DRAIN_GRACE", time.Second),
		ConnectBackoff: env.getEnvDuration("SIM_CONNECT_BACKOFF", 500*time.Millisecond),

		MeterMaxWatts: env.getEnvFloat("SIM_METER_MAX_WATTS", 9000),

		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "pv-simulator"),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "pvsim/"),

		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "energy"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		MetricsAddr: getEnv("METRICS_ADDR", ""),
		LogFormat:   getEnv("LOG_FORMAT", "console"),
	}

	if value := os.Getenv("SIM_SEED"); value != "" {
		seed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			env.warnf("failed to parse SIM_SEED as int, using a random seed: %v", err)
		} else {
			cfg.Seed = seed
			cfg.HasSeed = true
		}
	}

	if value := os.Getenv("SIM_START_TIME"); value != "" {
		start, err := time.Parse(time.RFC3339, value)
		if err != nil {
			env.warnf("failed to parse SIM_START_TIME as RFC3339, using now: %v", err)
		} else {
			cfg.StartTime = start
		}
	}

	cfg.Warnings = env.warnings
	return cfg
}

// Validate rejects configurations that cannot produce a run
func (c *SimulationConfig) Validate() error {
	if c.SamplingIntervalSeconds <= 0 {
		return fmt.Errorf("%w: sampling interval must be positive, got %d", models.ErrConfig, c.SamplingIntervalSeconds)
	}
	if math.IsNaN(c.RunLengthHours) || math.IsInf(c.RunLengthHours, 0) || c.RunLengthHours <= 0 {
		return fmt.Errorf("%w: run length must be a positive number of hours, got %v", models.ErrConfig, c.RunLengthHours)
	}
	if c.BrokerEndpoint == "" {
		return fmt.Errorf("%w: broker endpoint is empty", models.ErrConfig)
	}
	if _, err := url.Parse(c.BrokerEndpoint); err != nil {
		return fmt.Errorf("%w: broker endpoint: %v", models.ErrConfig, err)
	}
	if c.OutputPath == "" {
		return fmt.Errorf("%w: output path is empty", models.ErrConfig)
	}
	if c.TickDelay < 0 {
		return fmt.Errorf("%w: tick delay must not be negative, got %v", models.ErrConfig, c.TickDelay)
	}
	if c.DrainGrace <= 0 {
		return fmt.Errorf("%w: drain grace must be positive, got %v", models.ErrConfig, c.DrainGrace)
	}
	if math.IsNaN(c.MeterMaxWatts) || math.IsInf(c.MeterMaxWatts, 0) || c.MeterMaxWatts < 0 {
		return fmt.Errorf("%w: meter ceiling must be a non-negative number, got %v", models.ErrConfig, c.MeterMaxWatts)
	}
	return nil
}

// SamplingInterval returns the tick length
func (c *SimulationConfig) SamplingInterval() time.Duration {
	return time.Duration(c.SamplingIntervalSeconds) * time.Second
}

// RunLength returns the simulated run length rounded to the nanosecond
func (c *SimulationConfig) RunLength() time.Duration {
	return simclock.HoursToDuration(c.RunLengthHours)
}

// Origin returns the simulated start instant
func (c *SimulationConfig) Origin() time.Time {
	if c.StartTime.IsZero() {
		return time.Now().UTC().Truncate(time.Second)
	}
	return c.StartTime.UTC().Truncate(time.Second)
}

// ResolveSeed returns the configured seed or one derived from the clock
func (c *SimulationConfig) ResolveSeed() int64 {
	if c.HasSeed {
		return c.Seed
	}
	return time.Now().UnixNano()
}

// envLoader reads typed values and remembers the ones that failed to parse
type envLoader struct {
	warnings []string
}

func (e *envLoader) warnf(format string, args ...interface{}) {
	e.warnings = append(e.warnings, fmt.Sprintf(format, args...))
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func (e *envLoader) getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		e.warnf("failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func (e *envLoader) getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.warnf("failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func (e *envLoader) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		e.warnf("failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return duration
}
