package result

import "fmt"

// ErrorOr is a type that can hold either an error or a value.
// It can then later on be unwrapped to a zeroed-value and error, or the value and a nil error.
type ErrorOr[T any] struct {
	e error
	v T
}

// Error wraps an error into an ErrorOr.
func Error[T any](e error) ErrorOr[T] {
	return ErrorOr[T]{e: e}
}

// Of wraps a value into an ErrorOr.
func Of[T any](v T) ErrorOr[T] {
	return ErrorOr[T]{e: nil, v: v}
}

// Unwrap unwraps the ErrorOr into a value and an error.
func (e ErrorOr[T]) Unwrap() (T, error) {
	return e.v, e.e
}

func (e ErrorOr[T]) String() string {
	if e.e != nil {
		return fmt.Sprintf("Error(%v)", e.e)
	}

	return fmt.Sprintf("Result(%v)", e.v)
}
