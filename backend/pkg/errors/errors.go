package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents malformed or absent input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeDuplicate represents a fingerprint collision on ingestion
	ErrorTypeDuplicate ErrorType = "duplicate"
	// ErrorTypeExtraction represents LLM extraction failures
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypePersistence represents relational store write failures
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeNotFound represents missing records
	ErrorTypeNotFound ErrorType = "not_found"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// ErrorKind reports the category of the error.
func (e *BaseError) ErrorKind() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Validation Errors

// ValidationError is returned when input is malformed or absent. It is
// raised before any side effect happens.
type ValidationError struct {
	*BaseError
	Field string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		BaseError: NewBaseError(ErrorTypeValidation, message, nil),
		Field:     field,
	}
}

// ErrNoContent is the validation failure for an ingestion without content.
func ErrNoContent() *ValidationError {
	return NewValidationError("content", "no content provided")
}

// Duplicate Errors

// DuplicateError is returned when a message with the same content
// fingerprint already exists in the project.
type DuplicateError struct {
	*BaseError
	ExistingID  string
	Fingerprint string
}

func NewDuplicateError(existingID, fingerprint string) *DuplicateError {
	return &DuplicateError{
		BaseError:   NewBaseError(ErrorTypeDuplicate, fmt.Sprintf("content already ingested as %s", existingID), nil),
		ExistingID:  existingID,
		Fingerprint: fingerprint,
	}
}

// Extraction Errors

// ExtractionSoftFailure marks an LLM call that failed or produced
// unparsable output. Ingestion continues without entities.
type ExtractionSoftFailure struct {
	*BaseError
	Model string
	Raw   string
}

func NewExtractionSoftFailure(model, reason string, raw string, err error) *ExtractionSoftFailure {
	return &ExtractionSoftFailure{
		BaseError: NewBaseError(ErrorTypeExtraction, reason, err),
		Model:     model,
		Raw:       raw,
	}
}

// Persistence Errors

// ItemFailure describes one entity that could not be written.
type ItemFailure struct {
	EntityType string
	Index      int
	Reason     string
}

// PersistencePartialFailure aggregates per-item write failures. The
// remaining items were still written.
type PersistencePartialFailure struct {
	*BaseError
	Failures []ItemFailure
}

func NewPersistencePartialFailure(failures []ItemFailure) *PersistencePartialFailure {
	kinds := make([]string, 0, len(failures))
	for _, f := range failures {
		kinds = append(kinds, fmt.Sprintf("%s[%d]", f.EntityType, f.Index))
	}
	return &PersistencePartialFailure{
		BaseError: NewBaseError(ErrorTypePersistence, fmt.Sprintf("%d entity writes failed: %s", len(failures), strings.Join(kinds, ", ")), nil),
		Failures:  failures,
	}
}

// Graph Errors

// ErrGraphNotConnected is returned by graph operations when no backend is
// connected.
var ErrGraphNotConnected = NewBaseError(ErrorTypeGraph, "graph backend not connected", nil)

// GraphSyncFailure wraps a failed graph operation. Always non-fatal to
// ingestion.
type GraphSyncFailure struct {
	*BaseError
	Graph     string
	Operation string
}

func NewGraphSyncFailure(graph, operation string, err error) *GraphSyncFailure {
	return &GraphSyncFailure{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("graph %s failed on %s", operation, graph), err),
		Graph:     graph,
		Operation: operation,
	}
}

// ErrGraphConnectionFailed is returned when Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// Not found

// NotFoundError is returned when a record does not exist.
type NotFoundError struct {
	*BaseError
	Entity string
	ID     string
}

func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("%s not found: %s", entity, id), nil),
		Entity:    entity,
		ID:        id,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Helper functions

type kinded interface {
	ErrorKind() ErrorType
}

// IsErrorType checks if an error, or any error it wraps, is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if k, ok := err.(kinded); ok && k.ErrorKind() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// AsDuplicate extracts a DuplicateError from the chain.
func AsDuplicate(err error) (*DuplicateError, bool) {
	var dup *DuplicateError
	if stderrors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}

// AsValidation extracts a ValidationError from the chain.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if stderrors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// IsRejection reports whether err must be surfaced to the caller as a
// rejection. Everything else is a soft failure.
func IsRejection(err error) bool {
	return IsErrorType(err, ErrorTypeValidation) || IsErrorType(err, ErrorTypeDuplicate)
}
