package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// PanicError carries a recovered panic value and the stack it unwound.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	if err, ok := p.Value.(error); ok {
		return "panic: " + err.Error()
	}
	return fmt.Sprintf("panic: %v", p.Value)
}

func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

// RecoverPanic turns a recovered value into a fatal internal error. The
// stack stays on the cause so it reaches logs but never an API response.
// Call it from the deferred function that called recover().
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}
	return ErrInternal.
		WithCause(&PanicError{Value: r, Stack: debug.Stack()}).
		WithDetail("panic", true).
		AsFatal()
}

// Safely runs fn and reports a panic in it as an error.
func Safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = RecoverPanic(r)
		}
	}()
	return fn()
}

// PanicStack returns the stack of the panic behind err, if any.
func PanicStack(err error) []byte {
	var p *PanicError
	if errors.As(err, &p) {
		return p.Stack
	}
	return nil
}
