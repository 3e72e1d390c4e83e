package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"pv-simulator/internal/models"
)

// ClickHouseConfig holds connection settings
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// RunRow is the per-run summary stored next to the observations
type RunRow struct {
	RunID      uuid.UUID
	FinishedAt time.Time
	State      string
	Records    int
	Dropped    int
	OutputPath string
}

type ClickHouseDB struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, cfg ClickHouseConfig, logger *zap.Logger) (*ClickHouseDB, error) {
	logger = logger.Named("clickhouse")

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("Connected to ClickHouse", zap.String("addr", cfg.Addr))

	db := &ClickHouseDB{conn: conn, logger: logger}

	if err := db.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.logger.Debug("Database schema initialized")
	return nil
}

// SaveObservations inserts a run's records in a single batch
func (db *ClickHouseDB) SaveObservations(ctx context.Context, runID uuid.UUID, records []models.PowerObservationRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO power_observations")
	if err != nil {
		return fmt.Errorf("failed to prepare observation batch: %w", err)
	}

	for _, r := range records {
		if err := batch.Append(
			runID,
			r.TimeStamp,
			r.MeterPowerConsumption,
			r.PVPowerOutput,
			r.TotalPowerOutput,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append observation: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert observations: %w", err)
	}

	db.logger.Info("Saved observations", zap.Stringer("run_id", runID), zap.Int("records", len(records)))
	return nil
}

// SaveRun records the outcome of a run
func (db *ClickHouseDB) SaveRun(ctx context.Context, run RunRow) error {
	query := `
		INSERT INTO simulation_runs (run_id, finished_at, state, records, dropped, output_path)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		run.RunID,
		run.FinishedAt,
		run.State,
		uint32(run.Records),
		uint32(run.Dropped),
		run.OutputPath,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run summary: %w", err)
	}

	return nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		db.logger.Info("ClickHouse connection closed")
	}
	return nil
}
