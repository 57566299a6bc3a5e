package vm

import "fmt"

// AssertionError is the panic value raised when a caller breaks one of the
// register-state contracts. It is not a recoverable error: the worker lets
// it take the process down.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string {
	return "vm: assertion failed: " + e.Msg
}

func assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(&AssertionError{Msg: fmt.Sprintf(format, args...)})
	}
}

// mustf turns a failed OS primitive into an assertion. There is no degraded
// mode for a half-protected segment.
func mustf(err error, format string, args ...interface{}) {
	if err != nil {
		panic(&AssertionError{Msg: fmt.Sprintf(format, args...) + ": " + err.Error()})
	}
}
