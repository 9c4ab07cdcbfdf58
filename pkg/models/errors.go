package models

import "fmt"

// ConfigurationError is fatal: the process cannot run with this configuration.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// GatewayError is a failed call to the storage gateway for a single mapping.
type GatewayError struct {
	Op         string
	RemoteName string
	Err        error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.RemoteName, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ArchiveError is a failed backup attempt. Stage is "archive", "upload" or
// "commit".
type ArchiveError struct {
	Stage string
	Err   error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("backup %s failed: %v", e.Stage, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }
