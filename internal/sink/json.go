// Package sink persists correlated observation records.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"pv-simulator/internal/models"
)

// JSONSink collects records in memory and writes them as one JSON array.
// Flush replaces the target atomically: readers see either the previous file or
// the complete new one.
type JSONSink struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	records []models.PowerObservationRecord
}

// NewJSONSink creates a sink writing to path
func NewJSONSink(path string, logger *zap.Logger) *JSONSink {
	return &JSONSink{
		path:    path,
		logger:  logger.Named("sink"),
		records: make([]models.PowerObservationRecord, 0),
	}
}

// Append adds a record in arrival order
func (s *JSONSink) Append(record models.PowerObservationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

// Len returns the number of accumulated records
func (s *JSONSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns a copy of the accumulated records
func (s *JSONSink) Records() []models.PowerObservationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PowerObservationRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Flush writes every accumulated record to the target file
func (s *JSONSink) Flush() error {
	s.mu.Lock()
	payload, err := json.MarshalIndent(s.records, "", "  ")
	count := len(s.records)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: encode records: %v", models.ErrSinkWrite, err)
	}
	payload = append(payload, '\n')

	if err := writeAtomic(s.path, payload); err != nil {
		return fmt.Errorf("%w: %v", models.ErrSinkWrite, err)
	}

	s.logger.Info("Wrote output", zap.String("path", s.path), zap.Int("records", count))
	return nil
}

// writeAtomic writes to a temporary file next to path and renames it into place
func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
