package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput marks a request with a missing or unparsable field.
	// The whole request fails.
	ErrMalformedInput = errors.New("malformed input")

	// ErrUnavailable marks a request that is well formed but has no answer.
	ErrUnavailable = errors.New("unavailable")

	// ErrNoPathFound is returned when no route exists within the hop limit.
	ErrNoPathFound = &UnavailableError{Reason: "no path found"}

	// ErrBundleDependencyViolation marks an operation that depends on itself
	// or on a later operation.
	ErrBundleDependencyViolation = errors.New("bundle dependency violation")
)

// UnavailableError carries the reason a result could not be produced.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return "unavailable: " + e.Reason
}

func (e *UnavailableError) Unwrap() error {
	return ErrUnavailable
}

// Unavailable builds an UnavailableError with a formatted reason.
func Unavailable(format string, args ...any) error {
	return &UnavailableError{Reason: fmt.Sprintf(format, args...)}
}

// Malformed wraps ErrMalformedInput with a formatted detail.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}

// Reason extracts the human readable reason from an unavailable error.
func Reason(err error) string {
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return unavailable.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
