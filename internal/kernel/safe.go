package kernel

import (
	"fmt"
	"runtime/debug"
)

// PanicError reports a recovered panic from a module hook or channel handler.
type PanicError struct {
	Scope string
	Value any
	Stack []byte
}

// Error returns the scope and panic value; the stack is kept for logging.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic recovered: %v", e.Scope, e.Value)
}

// runSafely runs fn, tagging its error with scope and turning a panic into *PanicError.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &PanicError{Scope: scope, Value: recovered, Stack: debug.Stack()}
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}
