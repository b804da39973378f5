// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrIntegrationNotFound is returned when a referenced integration does not
// exist. It is fatal to the operation that looked it up.
var ErrIntegrationNotFound = errors.New("integration not found")

// ErrIntegrationInactive is returned when an operation requires an active
// integration but its status is not "active".
var ErrIntegrationInactive = errors.New("integration is not active")

// FetchError wraps a non-rate-limit failure from the GitHub API for one
// sub-resource. The orchestrator recovers from it at the stage boundary.
type FetchError struct {
	Resource string
	Scope    string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s for %s: %v", e.Resource, e.Scope, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// WorkerError is a structured failure reported by a pool worker: the failure
// message plus the stack trace captured inside the worker.
type WorkerError struct {
	Message string
	Stack   string
}

func (e *WorkerError) Error() string {
	return e.Message
}
