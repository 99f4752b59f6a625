package models

import (
	"fmt"
	"strings"
)

// FieldError describes one violated constraint in an ingestion payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a payload.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// StoreError wraps any failure of the persistence layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ClassifierError wraps a failed or timed out scoring call.
type ClassifierError struct {
	Timeout bool
	Err     error
}

func (e *ClassifierError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("classifier timed out: %v", e.Err)
	}
	return fmt.Sprintf("classifier failed: %v", e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

// TransportError is reported when a live session's connection breaks.
type TransportError struct {
	SessionID string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session %s transport failed: %v", e.SessionID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
