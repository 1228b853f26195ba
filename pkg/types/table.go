package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Descriptor and registry errors.
var (
	ErrInvalidType       = errors.New("invalid entity type")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrUnknownProperty   = errors.New("unknown property")
)

// Record lifecycle errors.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrValidationFailed  = errors.New("validation failed")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrConflict          = errors.New("entity modified concurrently")
	ErrAlreadyPersisted  = errors.New("entity already has an identity")
	ErrNotPersisted      = errors.New("entity has no identity")
	ErrNotValidated      = errors.New("entity data has not been validated")
	ErrDeleted           = errors.New("entity was deleted")
	ErrInvalidQuery      = errors.New("invalid query")
)

// ValidationError carries the per-property rejection reasons of a
// SetData call. errors.Is(err, ErrValidationFailed) holds for it.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Is matches ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// PersistenceError wraps a storage failure. errors.Is(err,
// ErrPersistenceFailed) holds for it and the driver error is reachable
// with errors.As/Unwrap.
type PersistenceError struct {
	Op   string // insert, update, delete, load
	Type string // entity type name
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Type, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is matches ErrPersistenceFailed.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailed
}
