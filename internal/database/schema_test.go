package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObservationColumnsMatchOutput(t *testing.T) {
	for _, column := range []string{
		"time_stamp",
		"meter_power_consumption",
		"pv_power_output",
		"total_power_output",
	} {
		assert.True(t, strings.Contains(PowerObservationsTableSQL, column), column)
	}
}

func TestAllTablesAreIdempotent(t *testing.T) {
	tables := AllTables()
	assert.Len(t, tables, 2)
	for _, sql := range tables {
		assert.Contains(t, sql, "IF NOT EXISTS")
	}
}
