package models

import "errors"

// Fatal error categories of a run. Wrap them with fmt.Errorf("...: %w") and
// test with errors.Is.
var (
	// ErrConfig rejects a configuration before any task starts
	ErrConfig = errors.New("invalid simulation config")
	// ErrBroker covers connect, publish and subscribe failures
	ErrBroker = errors.New("broker failure")
	// ErrSinkWrite covers output persistence failures
	ErrSinkWrite = errors.New("sink write failure")
)
