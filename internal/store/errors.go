package store

import (
	"errors"
	"fmt"
)

// SQLSTATE-style codes reported by the store. Drivers that do not speak
// PostgreSQL translate their native failures onto these.
const (
	CodeUndefinedColumn           = "42703"
	CodeInvalidColumnReference    = "42P10"
	CodeUndefinedTable            = "42P01"
	CodeInvalidTextRepresentation = "22P02"
	CodeUniqueViolation           = "23505"
)

// Error is a classified failure reported by the store itself.
type Error struct {
	Code    string
	Message string
	Table   string
	Column  string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code)
}

// CodeOf returns the store error code carried by err, or "".
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// TransportError marks a failure to reach the store at all, as opposed to a
// failure reported by it. A Handle drops its client when it sees one.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "store transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
