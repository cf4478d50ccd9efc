package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Callers match with errors.Is.
var (
	ErrIdentityUnavailable    = errors.New("identity unavailable")
	ErrSchemaExhausted        = errors.New("all schema variants exhausted")
	ErrProfileNotFound        = errors.New("profile not found")
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountExists          = errors.New("account already exists")
	ErrInvalidBirthDate       = errors.New("invalid birth date")
	ErrGenerationExhausted    = errors.New("profile id generation exhausted")
	ErrIncompatibleColumnType = errors.New("identity column type incompatible with profile id")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrUnknownBank            = errors.New("unknown bank")
	ErrInvalidConfig          = errors.New("invalid configuration")
)

// IdentityUnavailableError is returned once auth resolution has used up its
// retries. Err is the last underlying failure, if any.
type IdentityUnavailableError struct {
	Attempts int
	Err      error
}

func (e *IdentityUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("identity unavailable after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("identity unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *IdentityUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIdentityUnavailable}
	}
	return []error{ErrIdentityUnavailable, e.Err}
}

// SchemaExhaustedError is returned when every query variant failed with a
// schema-class error. Err is the last observed failure.
type SchemaExhaustedError struct {
	Variants []string
	Err      error
}

func (e *SchemaExhaustedError) Error() string {
	return fmt.Sprintf("schema variants exhausted %v: %v", e.Variants, e.Err)
}

func (e *SchemaExhaustedError) Unwrap() []error {
	return []error{ErrSchemaExhausted, e.Err}
}
