package errors

import "fmt"

// FriendlyError is an error whose message is meant to be shown to users
// verbatim, without the "context: cause" chain that wraps internal errors.
type FriendlyError struct {
	Message string
}

func (err FriendlyError) Error() string {
	return err.Message
}

// FriendlyMessage implements the friendlier interface.
func (err FriendlyError) FriendlyMessage() string {
	return err.Message
}

type friendlier interface {
	FriendlyMessage() string
}

// NewFriendlyError creates an error that will be printed to users without
// any additional context.
func NewFriendlyError(format string, args ...interface{}) error {
	return FriendlyError{Message: fmt.Sprintf(format, args...)}
}

// GetPrintableMessage returns the message that should be shown to users for
// the given error. Friendly errors are printed as-is, anything else gets the
// full context chain.
func GetPrintableMessage(err error) string {
	if friendly, ok := RootCause(err).(friendlier); ok {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}
