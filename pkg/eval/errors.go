package eval

import (
	"context"
	"errors"
	"fmt"
)

// Error is an evaluation failure as reported to the frontend.
type Error struct {
	Name  string
	Value string
	Stack []string
}

func (e *Error) Error() string {
	if e.Value == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Value)
}

// ErrorName implements dispatch.NamedError.
func (e *Error) ErrorName() string {
	return e.Name
}

// Traceback returns the stack lines, or the formatted error when there are
// none.
func (e *Error) Traceback() []string {
	if len(e.Stack) > 0 {
		return append([]string(nil), e.Stack...)
	}
	return []string{e.Error()}
}

// Interrupted is the error reported for a cell stopped by interrupt_request.
func Interrupted() *Error {
	return &Error{Name: "KeyboardInterrupt", Value: "execution interrupted"}
}

// AsError normalizes any failure into an *Error. Cancellation becomes
// KeyboardInterrupt.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var evalErr *Error
	if errors.As(err, &evalErr) {
		return evalErr
	}
	if errors.Is(err, context.Canceled) {
		return Interrupted()
	}

	name := "Error"
	var named interface{ ErrorName() string }
	if errors.As(err, &named) {
		name = named.ErrorName()
	}
	return &Error{Name: name, Value: err.Error()}
}
