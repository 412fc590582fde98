package errors

import "fmt"

// New returns an error with the given message.
func New(msg string) error {
	return simpleError{msg}
}

type simpleError struct {
	msg string
}

func (err simpleError) Error() string {
	return err.msg
}

// ContextError annotates an error with what the caller was doing when the
// error occurred.
type ContextError struct {
	Context string
	Err     error
}

func (err ContextError) Error() string {
	return fmt.Sprintf("%s: %s", err.Context, err.Err)
}

// Unwrap returns the wrapped error so that ContextError works with the
// standard errors.Is and errors.As helpers.
func (err ContextError) Unwrap() error {
	return err.Err
}

// WithContext wraps `err` with a short description of the operation that
// failed. The resulting message reads from the outermost operation inwards,
// e.g. "parse user config: read file: permission denied".
func WithContext(err error, context string) error {
	return ContextError{Context: context, Err: err}
}

// RootCause returns the innermost error in a chain of ContextErrors.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(ContextError)
		if !ok {
			return err
		}
		err = ctxErr.Err
	}
}
