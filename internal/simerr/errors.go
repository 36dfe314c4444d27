// Package simerr holds the error taxonomy shared by the model compiler and
// the simulation orchestrator. Callers match with errors.Is.
package simerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid user input: malformed admixture edges,
	// sample specs, conflicting length/rate-map arguments, double masking.
	ErrConfiguration = errors.New("configuration error")
	// ErrGeometry marks admixture intervals that cannot be placed on the tree.
	ErrGeometry = errors.New("geometry error")
	// ErrDataState marks operations that need data which was not simulated.
	ErrDataState = errors.New("data state error")
)

func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func Geometryf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGeometry, fmt.Sprintf(format, args...))
}

func DataStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataState, fmt.Sprintf(format, args...))
}
