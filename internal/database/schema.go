package database

// SQL schemas for all ClickHouse tables

const (
	// PowerObservationsTableSQL creates the power_observations table
	PowerObservationsTableSQL = `
		CREATE TABLE IF NOT EXISTS power_observations (
			run_id UUID,
			time_stamp DateTime('UTC'),
			meter_power_consumption Float64,
			pv_power_output Float64,
			total_power_output Float64
		) ENGINE = MergeTree()
		ORDER BY (run_id, time_stamp)
		PARTITION BY toYYYYMM(time_stamp)
	`

	// SimulationRunsTableSQL creates the simulation_runs table, one row per finished run
	SimulationRunsTableSQL = `
		CREATE TABLE IF NOT EXISTS simulation_runs (
			run_id UUID,
			finished_at DateTime64(3),
			state String,
			records UInt32,
			dropped UInt32,
			output_path String
		) ENGINE = ReplacingMergeTree(finished_at)
		ORDER BY run_id
	`
)

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		PowerObservationsTableSQL,
		SimulationRunsTableSQL,
	}
}
