package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Construction errors: fatal, surfaced before any sampling begins
	ErrConfiguration                 = errors.New("invalid specification")
	ErrInvalidDistributionParameters = errors.New("invalid distribution parameters")

	// Row-level errors: recoverable, the row is dropped from the outcomes
	ErrInjectionFault = errors.New("injection fault")

	// Run bookkeeping
	ErrNotFound      = errors.New("resource not found")
	ErrRunNotFound   = fmt.Errorf("%w: run", ErrNotFound)
	ErrRunInProgress = errors.New("a run is already in progress")
)

// Error constructors with context
func NewConfigurationError(row int, field string, reason string) error {
	if row < 0 {
		return fmt.Errorf("%w: %s: %s", ErrConfiguration, field, reason)
	}
	return fmt.Errorf("%w: row %d: %s: %s", ErrConfiguration, row+1, field, reason)
}

func NewDistributionError(name string, reason string) error {
	if name == "" {
		return fmt.Errorf("%w: %s", ErrInvalidDistributionParameters, reason)
	}
	return fmt.Errorf("%w for variable %s: %s", ErrInvalidDistributionParameters, name, reason)
}

func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFatal reports whether err must stop a run before it starts.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrInvalidDistributionParameters)
}

func IsInjectionFault(err error) bool {
	return errors.Is(err, ErrInjectionFault)
}
