package backends

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ShapeMismatchError is returned when a scorer output tensor does not have the
// shape derived from the batch. It aborts the whole batch.
type ShapeMismatchError struct {
	Tensor   string
	Expected Shape
	Actual   Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("tensor %s has shape %s, expected %s", e.Tensor, e.Actual, e.Expected)
}

// MissingTensorError is returned when a required tensor is absent from the scorer output.
type MissingTensorError struct {
	Tensor    string
	Available []string
}

func (e *MissingTensorError) Error() string {
	return fmt.Sprintf("tensor %s not found in scorer output (available: %s)", e.Tensor, strings.Join(e.Available, ", "))
}

// ValidateTensorNames checks that every expected name is declared. kind is
// "input" or "output" and only shows up in the error messages.
func ValidateTensorNames(kind string, declared []string, expected []string) error {
	var errs []error
	for _, name := range expected {
		if !slices.Contains(declared, name) {
			errs = append(errs, fmt.Errorf("model %s %s is required but the model declares %v", kind, name, declared))
		}
	}
	return errors.Join(errs...)
}
