package utils

import "github.com/pkg/errors"

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// CapturePanic runs f and converts a panic inside it into an error. Producer loops use it so a
// bad frame costs one iteration instead of the goroutine.
func CapturePanic(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rErr, ok := r.(error); ok {
				err = errors.Wrap(rErr, "recovered from panic")
				return
			}
			err = errors.Errorf("recovered from panic: %v", r)
		}
	}()
	return f()
}
