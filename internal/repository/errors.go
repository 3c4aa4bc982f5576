package repository

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidInput = errors.New("invalid input")

// SchemaResolutionError reports that no candidate workspace table answered
// the startup probe.
type SchemaResolutionError struct {
	Candidates []string
	Errs       []error
}

func (e *SchemaResolutionError) Error() string {
	if len(e.Candidates) == 0 {
		return "resolve workspace table: no candidate table names configured"
	}
	return fmt.Sprintf("resolve workspace table: none of [%s] accepted: %v",
		strings.Join(e.Candidates, ", "), errors.Join(e.Errs...))
}

func (e *SchemaResolutionError) Unwrap() []error {
	return e.Errs
}

// ProfileCreationError reports that every handle attempt for a new profile
// was rejected.
type ProfileCreationError struct {
	UserID   string
	Handle   string
	Attempts int
	Err      error
}

func (e *ProfileCreationError) Error() string {
	return fmt.Sprintf("could not create profile for user %s: handle %q taken after %d attempts", e.UserID, e.Handle, e.Attempts)
}

func (e *ProfileCreationError) Unwrap() error {
	return e.Err
}

// RemoteStoreError wraps any rejected record store call.
type RemoteStoreError struct {
	Op    string
	Table string
	Err   error
}

func (e *RemoteStoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *RemoteStoreError) Unwrap() error {
	return e.Err
}

func remoteErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var existing *RemoteStoreError
	if errors.As(err, &existing) {
		return err
	}
	return &RemoteStoreError{Op: op, Table: table, Err: err}
}
